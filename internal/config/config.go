// Package config holds the routing configuration: agents, routes,
// per-account agent bindings, and per-instance channel policy. The loaded
// snapshot is cached by ConfigStore and swapped wholesale on refresh.
package config

import (
	"fmt"

	"github.com/nextlevelbuilder/agentroute/internal/sessions"
)

// AgentConfig defines one addressable conversational identity.
type AgentConfig struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Workspace   string `json:"workspace,omitempty"` // agent working directory
	DMScope     string `json:"dmScope,omitempty"`   // default scope for this agent's DMs
	Model       string `json:"model,omitempty"`
}

// RouteConfig maps a glob pattern over peer/group identifiers to an agent
// and/or DM scope override, optionally bound to one tenant account.
type RouteConfig struct {
	Pattern   string `json:"pattern"`
	Agent     string `json:"agent,omitempty"`
	DMScope   string `json:"dmScope,omitempty"`
	Priority  int    `json:"priority,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

// InstanceConfig is the per-tenant channel policy for one connected
// account.
type InstanceConfig struct {
	Name    string `json:"name,omitempty"` // operator-facing account name
	Channel string `json:"channel,omitempty"`
	Enabled bool   `json:"enabled"`
}

// CronJob is a scheduled message injected into an agent's main session.
type CronJob struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"` // cron expression
	Agent    string `json:"agent,omitempty"`
	Message  string `json:"message"`
}

// RouterConfig is one immutable configuration snapshot. Never mutated in
// place: refresh replaces the whole value.
type RouterConfig struct {
	Agents         map[string]AgentConfig    `json:"agents"`
	Routes         []RouteConfig             `json:"routes,omitempty"`
	AccountAgents  map[string]string         `json:"accountAgents,omitempty"`
	DefaultAgent   string                    `json:"defaultAgent,omitempty"`
	DefaultDMScope string                    `json:"defaultDmScope,omitempty"`
	Instances      map[string]InstanceConfig `json:"instances,omitempty"`
	Cron           []CronJob                 `json:"cron,omitempty"`

	Gateway   GatewayConfig   `json:"gateway,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket front.
type GatewayConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	Token          string   `json:"-"` // from env AGENTROUTE_GATEWAY_TOKEN only
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPS   float64  `json:"rate_limit_rps,omitempty"` // per-client, 0 = disabled
}

// DatabaseConfig selects the session store backend.
// PostgresDSN is never read from the config file (secret) — env only.
type DatabaseConfig struct {
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // from env AGENTROUTE_POSTGRES_DSN only
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
}

// IsManagedMode reports whether sessions live in Postgres.
func (c *RouterConfig) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Validate rejects snapshots that would misroute at runtime. Account ids
// must never collide with the peer-kind literals the key parser reserves,
// otherwise the accountId segment of a session key becomes ambiguous.
func (c *RouterConfig) Validate() error {
	for acct := range c.AccountAgents {
		if sessions.IsReservedKind(acct) {
			return fmt.Errorf("accountAgents: account id %q is a reserved peer-kind literal", acct)
		}
	}
	for acct := range c.Instances {
		if sessions.IsReservedKind(acct) {
			return fmt.Errorf("instances: account id %q is a reserved peer-kind literal", acct)
		}
	}
	for i, r := range c.Routes {
		if r.Pattern == "" {
			return fmt.Errorf("routes[%d]: empty pattern", i)
		}
		if sessions.IsReservedKind(r.AccountID) {
			return fmt.Errorf("routes[%d]: account id %q is a reserved peer-kind literal", i, r.AccountID)
		}
	}
	if c.DefaultAgent != "" {
		if _, ok := c.Agents[c.DefaultAgent]; !ok {
			return fmt.Errorf("defaultAgent %q not present in agents", c.DefaultAgent)
		}
	}
	return nil
}

// AccountIDForName resolves an operator-facing account name to its
// instance id. Empty string when unknown.
func (c *RouterConfig) AccountIDForName(name string) string {
	for id, inst := range c.Instances {
		if inst.Name == name {
			return id
		}
	}
	return ""
}

// NameForAccountID resolves an instance id back to its account name.
func (c *RouterConfig) NameForAccountID(id string) string {
	if inst, ok := c.Instances[id]; ok {
		return inst.Name
	}
	return ""
}
