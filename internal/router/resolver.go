// Package router decides which agent owns an inbound conversation and
// which durable session it maps to. Resolution is a pure function of the
// config snapshot, the message's routing coordinates, and the current
// store contents: repeated calls converge to the same key and name.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/sessions"
	"github.com/nextlevelbuilder/agentroute/internal/store"
)

// ResolveParams are the routing coordinates a channel gateway extracts
// from one inbound message.
type ResolveParams struct {
	Channel   string `json:"channel,omitempty"`
	AccountID string `json:"accountId,omitempty"`

	// PeerID is the remote party's identifier (phone number, user id).
	PeerID  string `json:"peerId"`
	IsGroup bool   `json:"isGroup,omitempty"`
	// PeerKind overrides IsGroup when set; needed for channel-kind peers.
	PeerKind sessions.PeerKind `json:"peerKind,omitempty"`

	GroupID     string `json:"groupId,omitempty"` // raw, may carry a transport suffix
	GroupName   string `json:"groupName,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	ThreadID    string `json:"threadId,omitempty"`
}

// ResolvedRoute is the outcome of one resolution. Transient — the
// SessionEntry it references is the persisted artifact.
type ResolvedRoute struct {
	Agent       config.AgentConfig  `json:"agent"`
	DMScope     sessions.DMScope    `json:"dmScope"`
	SessionKey  string              `json:"sessionKey"`
	SessionName string              `json:"sessionName"`
	Route       *config.RouteConfig `json:"route,omitempty"`
	Entry       *store.SessionEntry `json:"entry,omitempty"`
}

// MatchPattern reports whether pattern matches value in full. Patterns
// without '*' compare case-insensitively; '*' alone matches everything;
// otherwise the pattern compiles to an anchored case-insensitive regexp
// with '*' as the only wildcard. No partial matches.
func MatchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return strings.EqualFold(value, pattern)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re, err := regexp.Compile("(?i)^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}

// FindRoute picks the winning route for a target. Account scoping is
// strict: with an accountId only routes bound to that exact account are
// candidates — an account-less route never matches tenant traffic, and a
// route for tenant A never matches tenant B. Candidates are ordered by
// priority descending with ties keeping declaration order.
func FindRoute(targetID string, routes []config.RouteConfig, accountID string) *config.RouteConfig {
	type cand struct {
		idx int
		r   config.RouteConfig
	}
	var scoped []cand
	for i, r := range routes {
		if r.AccountID != accountID {
			continue
		}
		scoped = append(scoped, cand{i, r})
	}

	// Insertion sort keeps ties stable without pulling in sort for a
	// handful of routes.
	for i := 1; i < len(scoped); i++ {
		for j := i; j > 0 && scoped[j].r.Priority > scoped[j-1].r.Priority; j-- {
			scoped[j], scoped[j-1] = scoped[j-1], scoped[j]
		}
	}

	for _, c := range scoped {
		if MatchPattern(targetID, c.r.Pattern) {
			r := c.r
			return &r
		}
	}
	return nil
}

// NormalizeGroupTarget canonicalizes a group/channel identifier for route
// matching: strip any transport suffix ("123@g.us" → "123") and a
// redundant "group:" prefix, then re-prefix.
func NormalizeGroupTarget(id string) string {
	id = strings.TrimPrefix(id, "group:")
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	return "group:" + id
}

// Resolver is the single entry point channel gateways call per inbound
// message.
type Resolver struct {
	cfg      *config.Store
	sessions store.SessionStore
	bus      bus.EventPublisher // optional
	tracer   trace.Tracer
}

// NewResolver wires the resolver to its config snapshot source and
// session store. publisher may be nil.
func NewResolver(cfg *config.Store, st store.SessionStore, publisher bus.EventPublisher) *Resolver {
	return &Resolver{
		cfg:      cfg,
		sessions: st,
		bus:      publisher,
		tracer:   otel.Tracer("agentroute/router"),
	}
}

// Resolve maps one inbound message to its agent and durable session.
//
// A nil, nil return means unrouted: the message's account has no matching
// route and no accountAgents binding. Callers hold unrouted messages for
// operator triage instead of defaulting them to an arbitrary agent. An
// agent id that is missing from the config is a configuration error and
// returns a non-nil error.
func (r *Resolver) Resolve(ctx context.Context, params ResolveParams) (*ResolvedRoute, error) {
	ctx, span := r.tracer.Start(ctx, "router.resolve", trace.WithAttributes(
		attribute.String("route.channel", params.Channel),
		attribute.String("route.account_id", params.AccountID),
	))
	defer span.End()

	cfg := r.cfg.Current()

	kind := params.PeerKind
	if kind == "" {
		kind = sessions.PeerKindFromGroup(params.IsGroup)
	}

	// Route matching target: DMs match on the peer id, group/channel
	// messages on the normalized "group:<id>" form.
	target := params.PeerID
	peerID := params.PeerID
	if kind != sessions.PeerDM {
		raw := params.GroupID
		if raw == "" {
			raw = params.PeerID
		}
		target = NormalizeGroupTarget(raw)
		peerID = strings.TrimPrefix(target, "group:")
	}

	route := FindRoute(target, cfg.Routes, params.AccountID)

	agentID := ""
	if route != nil && route.Agent != "" {
		agentID = route.Agent
	}
	// Per-account gating only applies when accountAgents is configured at
	// all: a deployment without tenant bindings routes every account to
	// the default agent, but once bindings exist an unbound account with
	// no matching route is held as unrouted rather than defaulted.
	if agentID == "" && params.AccountID != "" && len(cfg.AccountAgents) > 0 {
		bound, known := cfg.AccountAgents[params.AccountID]
		if !known && route == nil {
			slog.Debug("unrouted message",
				"channel", params.Channel, "account", params.AccountID, "target", target)
			return nil, nil
		}
		agentID = bound
	}
	if agentID == "" {
		agentID = cfg.DefaultAgent
	}
	if agentID == "" {
		slog.Debug("unrouted message, no default agent", "target", target)
		return nil, nil
	}

	agent, ok := cfg.Agents[agentID]
	if !ok {
		return nil, fmt.Errorf("route resolved to agent %q which is not defined in config", agentID)
	}

	scope := sessions.DMScope(cfg.DefaultDMScope)
	if agent.DMScope != "" {
		scope = sessions.DMScope(agent.DMScope)
	}
	if route != nil && route.DMScope != "" {
		scope = sessions.DMScope(route.DMScope)
	}
	if scope == "" {
		scope = sessions.ScopeMain
	}

	key := sessions.BuildSessionKey(sessions.SessionKeyParams{
		AgentID:   agentID,
		Channel:   params.Channel,
		AccountID: params.AccountID,
		PeerKind:  kind,
		PeerID:    peerID,
		DMScope:   scope,
		ThreadID:  params.ThreadID,
	})
	span.SetAttributes(
		attribute.String("route.agent_id", agentID),
		attribute.String("route.session_key", key),
	)

	entry, err := r.sessions.GetOrCreate(ctx, key, agentID, config.ExpandHome(agent.Workspace), &store.SessionDefaults{
		ChatType:    string(kind),
		Channel:     params.Channel,
		AccountID:   params.AccountID,
		GroupID:     peerIDIfGroup(kind, peerID),
		Subject:     params.GroupName,
		DisplayName: params.DisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create session %s: %w", key, err)
	}

	if entry.Name == "" {
		isMain := kind == sessions.PeerDM && scope == sessions.ScopeMain
		base := sessions.GenerateSessionName(agentID, sessions.NameOptions{
			IsMain:    isMain,
			GroupName: params.GroupName,
			PeerKind:  kind,
			PeerID:    peerID,
			ThreadID:  params.ThreadID,
		})
		name, err := sessions.EnsureUniqueName(ctx, r.sessions, base)
		if err != nil {
			return nil, fmt.Errorf("mint session name for %s: %w", key, err)
		}
		if err := r.sessions.SetName(ctx, key, name); err != nil {
			return nil, fmt.Errorf("persist session name %q: %w", name, err)
		}
		entry.Name = name
		slog.Info("session created", "key", key, "name", name, "agent", agentID)
	}

	// Remember where this message came from so proactive replies can be
	// addressed back.
	if err := r.sessions.SetLastRoute(ctx, key, store.RouteHint{
		Channel:   params.Channel,
		To:        target,
		AccountID: params.AccountID,
		ThreadID:  params.ThreadID,
	}); err != nil {
		slog.Warn("record last route failed", "key", key, "error", err)
	}

	if r.bus != nil {
		r.bus.Broadcast(bus.Event{
			Name: bus.EventRouteResolved,
			Payload: bus.RouteResolvedPayload{
				AgentID:     agentID,
				SessionKey:  key,
				SessionName: entry.Name,
				Channel:     params.Channel,
				AccountID:   params.AccountID,
			},
		})
	}

	return &ResolvedRoute{
		Agent:       agent,
		DMScope:     scope,
		SessionKey:  key,
		SessionName: entry.Name,
		Route:       route,
		Entry:       entry,
	}, nil
}

func peerIDIfGroup(kind sessions.PeerKind, peerID string) string {
	if kind == sessions.PeerDM {
		return ""
	}
	return peerID
}
