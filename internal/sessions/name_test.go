package sessions

import (
	"context"
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello, World!", "hello-world"},
		{"  Family  Group 🎉 ", "family-group"},
		{"already-a-slug", "already-a-slug"},
		{"___", ""},
		{"UPPER.case.Name", "upper-case-name"},
		{strings.Repeat("a", 60), strings.Repeat("a", 48)},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestGenerateSessionName(t *testing.T) {
	cases := []struct {
		name  string
		agent string
		opts  NameOptions
		want  string
	}{
		{"main is agent slug", "Main Agent", NameOptions{IsMain: true}, "main-agent"},
		{"suffix wins over group name", "main", NameOptions{Suffix: "Billing", GroupName: "Family"}, "main-billing"},
		{"group name wins over kind", "main", NameOptions{GroupName: "Family Group", PeerKind: PeerGroup, PeerID: "12345678901"}, "main-family-group"},
		{"group kind strips prefix", "main", NameOptions{PeerKind: PeerGroup, PeerID: "group:12345678901"}, "main-group-45678901"},
		{"channel kind", "news", NameOptions{PeerKind: PeerChannel, PeerID: "breaking-news-wire"}, "news-channel-ews-wire"},
		{"dm keeps trailing digits", "main", NameOptions{PeerKind: PeerDM, PeerID: "5511999999999"}, "main-dm-999999"},
		{"thread drops dots", "main", NameOptions{GroupName: "ops", ThreadID: "1699.42"}, "main-ops-t-169942"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GenerateSessionName(tc.agent, tc.opts); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateSessionName_Bounds(t *testing.T) {
	got := GenerateSessionName(strings.Repeat("a", 80), NameOptions{GroupName: strings.Repeat("b", 80)})
	if len(got) > 64 {
		t.Errorf("name %q exceeds 64 chars", got)
	}
	if strings.Contains(got, ".") {
		t.Errorf("name %q contains a dot", got)
	}

	// With no context at all the timestamp fallback kicks in.
	got = GenerateSessionName("main", NameOptions{})
	if !strings.HasPrefix(got, "main-") || len(got) <= len("main-") {
		t.Errorf("fallback name %q missing timestamp suffix", got)
	}
}

type fakeNameIndex map[string]bool

func (f fakeNameIndex) NameExists(_ context.Context, name string) (bool, error) {
	return f[strings.ToLower(name)], nil
}

func (f fakeNameIndex) add(name string) { f[strings.ToLower(name)] = true }

func TestEnsureUniqueName(t *testing.T) {
	ctx := context.Background()
	idx := fakeNameIndex{}

	got, err := EnsureUniqueName(ctx, idx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got != "main" {
		t.Errorf("free base: got %q, want %q", got, "main")
	}

	idx.add("main")
	got, err = EnsureUniqueName(ctx, idx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got != "main-2" {
		t.Errorf("first collision: got %q, want %q", got, "main-2")
	}
}

func TestEnsureUniqueName_150Collisions(t *testing.T) {
	ctx := context.Background()
	idx := fakeNameIndex{}
	seen := map[string]bool{}

	for i := 0; i < 150; i++ {
		name, err := EnsureUniqueName(ctx, idx, "main-dm-999999")
		if err != nil {
			t.Fatal(err)
		}
		if seen[name] {
			t.Fatalf("iteration %d: duplicate name %q", i, name)
		}
		if len(name) > 64 || strings.Contains(name, ".") {
			t.Fatalf("iteration %d: invalid name %q", i, name)
		}
		seen[name] = true
		idx.add(name)
	}

	// Probes stop at -99; later requests carry a timestamp suffix longer
	// than any probe suffix.
	var fallbacks int
	for name := range seen {
		if len(name) > len("main-dm-999999-99") {
			fallbacks++
		}
	}
	if fallbacks < 50 {
		t.Errorf("expected at least 50 timestamp fallbacks, got %d", fallbacks)
	}
}
