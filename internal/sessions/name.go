package sessions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session names are the human-facing handle for a session: lowercase
// [a-z0-9-], at most 64 chars, never containing '.' (reserved as a topic
// separator downstream). Names live alongside the machine key and must be
// unique across all sessions.

const (
	maxSlugLen = 48
	maxNameLen = 64
)

// Slugify lowercases text, collapses runs of non-alphanumerics to a single
// hyphen, trims edge hyphens, and truncates to 48 chars.
func Slugify(text string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			hyphen = false
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > maxSlugLen {
		s = strings.TrimRight(s[:maxSlugLen], "-")
	}
	return s
}

// NameOptions carries the context a session name is derived from.
type NameOptions struct {
	IsMain    bool
	Suffix    string // explicit override, wins over everything
	GroupName string
	PeerKind  PeerKind
	PeerID    string
	ThreadID  string
}

// GenerateSessionName derives a base name for a session. The main session
// is named exactly after its agent; everything else gets an
// "{agent}-{context}" name with strict suffix precedence:
// explicit suffix > group name > peer-kind formatting > timestamp.
func GenerateSessionName(agentID string, opts NameOptions) string {
	agent := Slugify(agentID)
	if opts.IsMain {
		return agent
	}

	var ctx string
	switch {
	case opts.Suffix != "":
		ctx = Slugify(opts.Suffix)
	case opts.GroupName != "":
		ctx = Slugify(opts.GroupName)
	case opts.PeerKind == PeerChannel && opts.PeerID != "":
		ctx = "channel-" + lastN(Slugify(opts.PeerID), 8)
	case opts.PeerKind == PeerGroup && opts.PeerID != "":
		id := strings.TrimPrefix(opts.PeerID, "group:")
		ctx = "group-" + lastN(Slugify(id), 8)
	case opts.PeerKind == PeerDM && opts.PeerID != "":
		ctx = "dm-" + lastDigits(opts.PeerID, 6)
	default:
		ctx = strconv.FormatInt(time.Now().Unix(), 36)
	}

	if opts.ThreadID != "" {
		ctx += "-t-" + Slugify(strings.ReplaceAll(opts.ThreadID, ".", ""))
	}

	name := agent + "-" + ctx
	if len(name) > maxNameLen {
		name = strings.TrimRight(name[:maxNameLen], "-")
	}
	return name
}

// NameIndex is the slice of the session store the namer needs: a
// case-insensitive "is this name taken" lookup.
type NameIndex interface {
	NameExists(ctx context.Context, name string) (bool, error)
}

// EnsureUniqueName returns base unchanged when free, otherwise probes
// base-2 .. base-99 and finally falls back to a timestamp suffix. The
// probe is bounded so termination is guaranteed; the fallback is unique
// with overwhelming probability.
func EnsureUniqueName(ctx context.Context, idx NameIndex, base string) (string, error) {
	taken, err := idx.NameExists(ctx, base)
	if err != nil {
		return "", fmt.Errorf("check name %q: %w", base, err)
	}
	if !taken {
		return base, nil
	}

	for i := 2; i <= 99; i++ {
		cand := base + "-" + strconv.Itoa(i)
		if len(cand) > maxNameLen {
			cand = strings.TrimRight(cand[:maxNameLen], "-")
		}
		taken, err := idx.NameExists(ctx, cand)
		if err != nil {
			return "", fmt.Errorf("check name %q: %w", cand, err)
		}
		if !taken {
			return cand, nil
		}
	}

	// Nanosecond resolution keeps rapid successive fallbacks distinct.
	stem := base
	if len(stem) > 50 {
		stem = strings.TrimRight(stem[:50], "-")
	}
	return stem + "-" + strconv.FormatInt(time.Now().UnixNano(), 36), nil
}

// lastN returns the trailing n chars of s (s when shorter).
func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// lastDigits keeps only digits and returns the trailing n of them; falls
// back to lastN of the slug when the id has no digits at all.
func lastDigits(s string, n int) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return lastN(Slugify(s), n)
	}
	return lastN(b.String(), n)
}
