package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON5(t *testing.T) {
	path := writeConfig(t, `{
		// routing for the support tenant
		agents: {
			main: { workspace: "~/work/main", dmScope: "per-peer" },
			support: { displayName: "Support Desk" },
		},
		defaultAgent: "support",
		routes: [
			{ pattern: "5511*", agent: "support", priority: 5, accountId: "acc1" },
		],
		accountAgents: { acc1: "support" },
		instances: {
			acc1: { name: "Main WhatsApp", channel: "whatsapp", enabled: true },
		},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultAgent != "support" {
		t.Errorf("defaultAgent = %q", cfg.DefaultAgent)
	}
	// Agent IDs are filled from the map key.
	if cfg.Agents["main"].ID != "main" || cfg.Agents["support"].ID != "support" {
		t.Errorf("agent ids not filled: %+v", cfg.Agents)
	}
	if cfg.Agents["main"].DMScope != "per-peer" {
		t.Errorf("dmScope = %q", cfg.Agents["main"].DMScope)
	}
	if len(cfg.Routes) != 1 || cfg.Routes[0].Priority != 5 {
		t.Errorf("routes = %+v", cfg.Routes)
	}
	if cfg.AccountIDForName("Main WhatsApp") != "acc1" {
		t.Errorf("AccountIDForName = %q", cfg.AccountIDForName("Main WhatsApp"))
	}
	if cfg.NameForAccountID("acc1") != "Main WhatsApp" {
		t.Errorf("NameForAccountID = %q", cfg.NameForAccountID("acc1"))
	}
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultAgent != "main" {
		t.Errorf("defaultAgent = %q, want main", cfg.DefaultAgent)
	}
	if _, ok := cfg.Agents["main"]; !ok {
		t.Error("default main agent missing")
	}
	if cfg.Gateway.Port == 0 {
		t.Error("default gateway port missing")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTROUTE_GATEWAY_TOKEN", "secret-token")
	t.Setenv("AGENTROUTE_PORT", "19999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gateway.Token != "secret-token" {
		t.Errorf("token = %q", cfg.Gateway.Token)
	}
	if cfg.Gateway.Port != 19999 {
		t.Errorf("port = %d", cfg.Gateway.Port)
	}
}

func TestValidate_ReservedAccountIDs(t *testing.T) {
	cases := []struct {
		name string
		cfg  RouterConfig
	}{
		{"accountAgents", RouterConfig{AccountAgents: map[string]string{"dm": "main"}}},
		{"instances", RouterConfig{Instances: map[string]InstanceConfig{"group": {}}}},
		{"routes", RouterConfig{Routes: []RouteConfig{{Pattern: "*", AccountID: "channel"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); err == nil {
				t.Error("expected reserved-literal rejection")
			}
		})
	}
}

func TestValidate_Routes(t *testing.T) {
	bad := RouterConfig{Routes: []RouteConfig{{Pattern: ""}}}
	if err := bad.Validate(); err == nil {
		t.Error("empty pattern must be rejected")
	}

	missing := RouterConfig{DefaultAgent: "ghost", Agents: map[string]AgentConfig{"main": {ID: "main"}}}
	if err := missing.Validate(); err == nil {
		t.Error("unknown defaultAgent must be rejected")
	}

	ok := RouterConfig{
		DefaultAgent: "main",
		Agents:       map[string]AgentConfig{"main": {ID: "main"}},
		Routes:       []RouteConfig{{Pattern: "5511*", AccountID: "acc1"}},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
