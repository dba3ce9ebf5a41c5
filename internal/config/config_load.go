package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a RouterConfig with sensible defaults.
func Default() *RouterConfig {
	return &RouterConfig{
		Agents: map[string]AgentConfig{
			"main": {ID: "main", Workspace: "~/.agentroute/workspace"},
		},
		DefaultAgent:   "main",
		DefaultDMScope: "main",
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18710,
		},
		Database: DatabaseConfig{
			SQLitePath: "~/.agentroute/sessions.db",
		},
	}
}

// Load reads the routing config from a JSON5 file, overlays env vars, and
// validates the result. A missing file yields the defaults.
func Load(path string) (*RouterConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Agents keyed by map entry; fill the ID field from the key so agent
	// definitions don't have to repeat it.
	for id, a := range cfg.Agents {
		if a.ID == "" {
			a.ID = id
			cfg.Agents[id] = a
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets come from env only.
func (c *RouterConfig) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTROUTE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AGENTROUTE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AGENTROUTE_MODE", &c.Database.Mode)
	envStr("AGENTROUTE_SQLITE_PATH", &c.Database.SQLitePath)
	envStr("AGENTROUTE_DEFAULT_AGENT", &c.DefaultAgent)
	envStr("AGENTROUTE_HOST", &c.Gateway.Host)
	if v := os.Getenv("AGENTROUTE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	envStr("AGENTROUTE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTROUTE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTROUTE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
