package sessions

import "testing"

func TestBuildSessionKey_DMScopes(t *testing.T) {
	cases := []struct {
		name string
		p    SessionKeyParams
		want string
	}{
		{
			name: "main scope collapses everything",
			p:    SessionKeyParams{AgentID: "main", PeerKind: PeerDM, DMScope: ScopeMain, Channel: "whatsapp", AccountID: "acc1", PeerID: "555", ThreadID: "9"},
			want: "agent:main:main",
		},
		{
			name: "per-peer is channel-agnostic",
			p:    SessionKeyParams{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerPeer, Channel: "whatsapp", PeerID: "5511999999999"},
			want: "agent:main:dm:5511999999999",
		},
		{
			name: "per-channel-peer",
			p:    SessionKeyParams{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "whatsapp", AccountID: "acc1", PeerID: "555"},
			want: "agent:main:whatsapp:dm:555",
		},
		{
			name: "per-account-channel-peer",
			p:    SessionKeyParams{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerAccountChanPeer, Channel: "whatsapp", AccountID: "acc1", PeerID: "555"},
			want: "agent:main:whatsapp:acc1:dm:555",
		},
		{
			name: "per-channel-peer with thread",
			p:    SessionKeyParams{AgentID: "support", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "slack", PeerID: "U123", ThreadID: "1699.42"},
			want: "agent:support:slack:dm:U123:thread:1699.42",
		},
		{
			name: "empty kind defaults to dm",
			p:    SessionKeyParams{AgentID: "main", DMScope: ScopePerPeer, PeerID: "555"},
			want: "agent:main:dm:555",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildSessionKey(tc.p); got != tc.want {
				t.Errorf("BuildSessionKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildSessionKey_Groups(t *testing.T) {
	p := SessionKeyParams{AgentID: "support", PeerKind: PeerGroup, Channel: "whatsapp", AccountID: "acc1", PeerID: "123456789"}
	if got, want := BuildSessionKey(p), "agent:support:whatsapp:acc1:group:123456789"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	// Callers sometimes pass the peer id already prefixed with its kind.
	p.PeerID = "group:123456789"
	if got, want := BuildSessionKey(p), "agent:support:whatsapp:acc1:group:123456789"; got != want {
		t.Errorf("double prefix: got %q, want %q", got, want)
	}

	noAcct := SessionKeyParams{AgentID: "news", PeerKind: PeerChannel, Channel: "telegram", PeerID: "breaking", ThreadID: "7"}
	if got, want := BuildSessionKey(noAcct), "agent:news:telegram:channel:breaking:thread:7"; got != want {
		t.Errorf("channel kind: got %q, want %q", got, want)
	}
}

func TestParseSessionKey_RoundTrip(t *testing.T) {
	cases := []SessionKeyParams{
		{AgentID: "main", PeerKind: PeerDM, DMScope: ScopeMain},
		{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerPeer, PeerID: "5511999999999"},
		{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "whatsapp", PeerID: "555"},
		{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerAccountChanPeer, Channel: "whatsapp", AccountID: "acc1", PeerID: "555"},
		{AgentID: "support", PeerKind: PeerGroup, Channel: "whatsapp", AccountID: "acc1", PeerID: "123456789"},
		{AgentID: "support", PeerKind: PeerGroup, Channel: "telegram", PeerID: "-100987"},
		{AgentID: "news", PeerKind: PeerChannel, Channel: "telegram", AccountID: "acc2", PeerID: "breaking", ThreadID: "7"},
		// Federated peer ids contain colons.
		{AgentID: "support", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "matrix", PeerID: "!room:example.org"},
		{AgentID: "support", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "matrix", PeerID: "!room:example.org", ThreadID: "42"},
		{AgentID: "support", PeerKind: PeerGroup, Channel: "matrix", AccountID: "acc1", PeerID: "!space:example.org:8448", ThreadID: "t1"},
		// A peer id whose tail looks like a thread marker still round-trips
		// when no real thread is present.
		{AgentID: "main", PeerKind: PeerDM, DMScope: ScopePerChannelPeer, Channel: "matrix", PeerID: "!abc:thread"},
	}
	for _, p := range cases {
		key := BuildSessionKey(p)
		got := ParseSessionKey(key)
		if got == nil {
			t.Errorf("ParseSessionKey(%q) = nil", key)
			continue
		}
		if got.AgentID != p.AgentID || got.Channel != p.Channel ||
			got.AccountID != p.AccountID || got.PeerKind != p.PeerKind ||
			got.PeerID != p.PeerID || got.ThreadID != p.ThreadID {
			t.Errorf("round trip %q:\n got  %+v\n want %+v", key, got, p)
		}
		if p.PeerKind == PeerDM && got.DMScope != p.DMScope {
			t.Errorf("round trip %q: dmScope = %q, want %q", key, got.DMScope, p.DMScope)
		}
	}
}

func TestParseSessionKey_Malformed(t *testing.T) {
	for _, key := range []string{
		"",
		"bogus",
		"agent",
		"agent:main",
		"foo:bar:baz",
		"agent:main:whatsapp",      // channel with nothing after it
		"agent:main:whatsapp:acc1", // no peer kind
		"agent:main:whatsapp:acc1:unknownkind:555",
		"agent:main:dm", // dm with no peer
	} {
		if got := ParseSessionKey(key); got != nil {
			t.Errorf("ParseSessionKey(%q) = %+v, want nil", key, got)
		}
	}
}

func TestIsReservedKind(t *testing.T) {
	for _, s := range []string{"dm", "group", "channel", "DM", "Group"} {
		if !IsReservedKind(s) {
			t.Errorf("IsReservedKind(%q) = false, want true", s)
		}
	}
	for _, s := range []string{"", "acc1", "main", "dms"} {
		if IsReservedKind(s) {
			t.Errorf("IsReservedKind(%q) = true, want false", s)
		}
	}
}

func TestPeerKindFromGroup(t *testing.T) {
	if PeerKindFromGroup(true) != PeerGroup {
		t.Error("expected group kind")
	}
	if PeerKindFromGroup(false) != PeerDM {
		t.Error("expected dm kind")
	}
}
