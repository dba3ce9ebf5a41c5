package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/store/sqlite"
)

func TestRunDue(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	st := sqlite.NewSessionStore(db)
	t.Cleanup(func() { st.Close() })

	cfg := config.NewStaticStore(&config.RouterConfig{
		Agents:       map[string]config.AgentConfig{"main": {ID: "main"}},
		DefaultAgent: "main",
		Cron: []config.CronJob{
			{ID: "daily", Schedule: "* * * * *", Message: "morning briefing"},
			{ID: "never", Schedule: "0 0 31 2 *", Message: "unreachable"},
			{ID: "broken", Schedule: "not a cron expr", Message: "ignored"},
			{ID: "ghost", Schedule: "* * * * *", Agent: "missing", Message: "dropped"},
		},
	})
	b := bus.NewMemoryBus()

	var fired []bus.Event
	b.Subscribe("test", func(ev bus.Event) { fired = append(fired, ev) })

	s := NewScheduler(cfg, st, b)
	s.runDue(context.Background(), time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))

	if len(fired) != 1 {
		t.Fatalf("fired %d events, want 1: %+v", len(fired), fired)
	}
	payload, ok := fired[0].Payload.(bus.CronTriggeredPayload)
	if !ok || fired[0].Name != bus.EventCronTriggered {
		t.Fatalf("event = %+v", fired[0])
	}
	if payload.JobID != "daily" || payload.AgentID != "main" || payload.SessionKey != "agent:main:main" {
		t.Errorf("payload = %+v", payload)
	}

	// The main session was created and named.
	entry, err := st.Get(context.Background(), "agent:main:main")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Name != "main" {
		t.Errorf("entry = %+v", entry)
	}

	// Firing again reuses the session and keeps its name.
	s.runDue(context.Background(), time.Date(2026, 3, 14, 9, 31, 0, 0, time.UTC))
	all, err := st.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("sessions = %d, want 1", len(all))
	}
}

func TestStartStopIdempotent(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	st := sqlite.NewSessionStore(db)
	t.Cleanup(func() { st.Close() })

	s := NewScheduler(config.NewStaticStore(&config.RouterConfig{}), st, bus.NewMemoryBus())
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
