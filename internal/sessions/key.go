// Package sessions — session key codec and session naming.
//
// Session keys are colon-delimited hierarchical identifiers. The key is the
// primary key of the session store and doubles as a pub/sub topic suffix,
// so the grammar is load-bearing:
//
//	agent:{agentId}:main
//	agent:{agentId}:dm:{peerId}
//	agent:{agentId}:{channel}:dm:{peerId}[:thread:{threadId}]
//	agent:{agentId}:{channel}:{accountId}:dm:{peerId}[:thread:{threadId}]
//	agent:{agentId}:{channel}:{group|channel}:{peerId}[:thread:{threadId}]
//	agent:{agentId}:{channel}:{accountId}:{group|channel}:{peerId}[:thread:{threadId}]
//
// Examples:
//
//	agent:main:dm:5511999999999
//	agent:main:whatsapp:acc1:group:123456789
//	agent:support:matrix:dm:!room:example.org:thread:42
package sessions

import "strings"

// PeerKind is the kind of remote party a conversation is with.
type PeerKind string

const (
	PeerDM      PeerKind = "dm"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

// DMScope controls how many distinct sessions an agent keeps across its
// direct-message peers.
type DMScope string

const (
	ScopeMain               DMScope = "main"
	ScopePerPeer            DMScope = "per-peer"
	ScopePerChannelPeer     DMScope = "per-channel-peer"
	ScopePerAccountChanPeer DMScope = "per-account-channel-peer"
)

// reservedKinds are segment literals that can never appear as an accountId.
// Enforced at config load; the parser relies on it to disambiguate the
// optional accountId segment.
var reservedKinds = map[string]bool{
	string(PeerDM):      true,
	string(PeerGroup):   true,
	string(PeerChannel): true,
}

// IsReservedKind reports whether s collides with a peer-kind literal.
func IsReservedKind(s string) bool { return reservedKinds[strings.ToLower(s)] }

// SessionKeyParams are the routing coordinates of a conversation.
type SessionKeyParams struct {
	AgentID   string
	Channel   string
	AccountID string
	PeerKind  PeerKind
	PeerID    string
	DMScope   DMScope // only meaningful when PeerKind == PeerDM
	ThreadID  string
}

// BuildSessionKey derives the canonical session key for the given routing
// coordinates. Two calls with identical params always produce the identical
// key.
func BuildSessionKey(p SessionKeyParams) string {
	parts := []string{"agent", p.AgentID}

	if p.PeerKind == PeerDM || p.PeerKind == "" {
		switch p.DMScope {
		case ScopeMain:
			parts = append(parts, "main")
			return strings.Join(parts, ":")
		case ScopePerPeer:
			parts = append(parts, "dm", p.PeerID)
			return strings.Join(parts, ":")
		case ScopePerAccountChanPeer:
			if p.Channel != "" {
				parts = append(parts, p.Channel)
			}
			if p.AccountID != "" {
				parts = append(parts, p.AccountID)
			}
			parts = append(parts, "dm", p.PeerID)
		default: // per-channel-peer
			if p.Channel != "" {
				parts = append(parts, p.Channel)
			}
			parts = append(parts, "dm", p.PeerID)
		}
	} else {
		if p.Channel != "" {
			parts = append(parts, p.Channel)
		}
		if p.AccountID != "" {
			parts = append(parts, p.AccountID)
		}
		// Guard against double-prefixing: callers sometimes pass
		// "group:123" as the peer id.
		peerID := strings.TrimPrefix(p.PeerID, string(p.PeerKind)+":")
		parts = append(parts, string(p.PeerKind), peerID)
	}

	if p.ThreadID != "" {
		parts = append(parts, "thread", p.ThreadID)
	}
	return strings.Join(parts, ":")
}

// ParseSessionKey decodes a session key back into routing coordinates.
// Returns nil for anything that is not a canonical key — foreign or
// malformed keys are a normal occurrence, not an error.
//
// Peer ids may themselves contain ':' (federated room ids), so the parser
// scans for the literal "thread" token instead of assuming a fixed segment
// count. The last "thread" segment with at least one segment after it wins.
func ParseSessionKey(key string) *SessionKeyParams {
	segs := strings.Split(key, ":")
	if len(segs) < 3 || segs[0] != "agent" {
		return nil
	}

	p := &SessionKeyParams{AgentID: segs[1]}
	rest := segs[2:]

	// agent:{id}:main
	if len(rest) == 1 && rest[0] == "main" {
		p.PeerKind = PeerDM
		p.DMScope = ScopeMain
		return p
	}

	// agent:{id}:dm:{peerId...}
	if rest[0] == "dm" {
		p.PeerKind = PeerDM
		p.DMScope = ScopePerPeer
		p.PeerID, p.ThreadID = splitThread(rest[1:])
		if p.PeerID == "" {
			return nil
		}
		return p
	}

	// General forms start with the channel segment.
	p.Channel = rest[0]
	rest = rest[1:]
	if len(rest) < 2 {
		return nil
	}

	switch {
	case reservedKinds[rest[0]]:
		// channel:{kind}:{peerId...}
		p.PeerKind = PeerKind(rest[0])
		rest = rest[1:]
	case len(rest) >= 3 && reservedKinds[rest[1]]:
		// channel:{accountId}:{kind}:{peerId...}
		p.AccountID = rest[0]
		p.PeerKind = PeerKind(rest[1])
		rest = rest[2:]
	default:
		return nil
	}

	p.PeerID, p.ThreadID = splitThread(rest)
	if p.PeerID == "" {
		return nil
	}

	// DM scope is only reconstructible for dm kinds; group/channel keys
	// carry no scope information.
	if p.PeerKind == PeerDM {
		if p.AccountID != "" {
			p.DMScope = ScopePerAccountChanPeer
		} else {
			p.DMScope = ScopePerChannelPeer
		}
	}
	return p
}

// splitThread re-joins a multi-segment peer id and peels off an optional
// ":thread:{threadId}" suffix. Scans from the end so peer ids containing
// the word "thread" mid-id still round-trip when no real thread is present.
func splitThread(segs []string) (peerID, threadID string) {
	for i := len(segs) - 2; i >= 1; i-- {
		if segs[i] == "thread" {
			return strings.Join(segs[:i], ":"), strings.Join(segs[i+1:], ":")
		}
	}
	return strings.Join(segs, ":"), ""
}

// PeerKindFromGroup maps the common "is it a group chat" boolean onto a kind.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDM
}
