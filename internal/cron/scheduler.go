// Package cron injects scheduled messages into agent main sessions. Jobs
// are cron expressions from the routing config; firing a job ensures the
// agent's main session exists and publishes the message on the event bus
// for the execution collaborator to consume.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
	"github.com/nextlevelbuilder/agentroute/internal/config"
	"github.com/nextlevelbuilder/agentroute/internal/sessions"
	"github.com/nextlevelbuilder/agentroute/internal/store"
)

// Scheduler evaluates the configured cron jobs once per minute.
type Scheduler struct {
	cfg      *config.Store
	sessions store.SessionStore
	bus      bus.EventPublisher
	gron     *gronx.Gronx

	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup
	stopFn  sync.Once
}

func NewScheduler(cfg *config.Store, st store.SessionStore, publisher bus.EventPublisher) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		sessions: st,
		bus:      publisher,
		gron:     gronx.New(),
		stop:     make(chan struct{}),
	}
}

// Start spawns the minute loop. Repeated calls are no-ops.
func (s *Scheduler) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.done.Add(1)
	go s.loop()
}

// Stop is idempotent.
func (s *Scheduler) Stop() {
	s.stopFn.Do(func() {
		s.running.Store(false)
		close(s.stop)
	})
	s.done.Wait()
}

func (s *Scheduler) loop() {
	defer s.done.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.runDue(context.Background(), now)
		}
	}
}

// runDue fires every job whose expression is due at ref.
func (s *Scheduler) runDue(ctx context.Context, ref time.Time) {
	cfg := s.cfg.Current()
	for _, job := range cfg.Cron {
		due, err := s.gron.IsDue(job.Schedule, ref)
		if err != nil {
			slog.Warn("invalid cron expression", "job", job.ID, "schedule", job.Schedule, "error", err)
			continue
		}
		if !due {
			continue
		}
		s.fire(ctx, cfg, job)
	}
}

func (s *Scheduler) fire(ctx context.Context, cfg *config.RouterConfig, job config.CronJob) {
	agentID := job.Agent
	if agentID == "" {
		agentID = cfg.DefaultAgent
	}
	agent, ok := cfg.Agents[agentID]
	if !ok {
		slog.Warn("cron job references unknown agent", "job", job.ID, "agent", agentID)
		return
	}

	key := sessions.BuildSessionKey(sessions.SessionKeyParams{
		AgentID:  agentID,
		PeerKind: sessions.PeerDM,
		DMScope:  sessions.ScopeMain,
	})
	entry, err := s.sessions.GetOrCreate(ctx, key, agentID, config.ExpandHome(agent.Workspace), nil)
	if err != nil {
		slog.Error("cron session lookup failed", "job", job.ID, "key", key, "error", err)
		return
	}
	if entry.Name == "" {
		name, err := sessions.EnsureUniqueName(ctx, s.sessions, sessions.GenerateSessionName(agentID, sessions.NameOptions{IsMain: true}))
		if err == nil {
			err = s.sessions.SetName(ctx, key, name)
		}
		if err != nil {
			slog.Warn("cron session naming failed", "job", job.ID, "error", err)
		}
	}

	s.bus.Broadcast(bus.Event{
		Name: bus.EventCronTriggered,
		Payload: bus.CronTriggeredPayload{
			JobID:      job.ID,
			AgentID:    agentID,
			SessionKey: key,
			Message:    job.Message,
		},
	})
	slog.Info("cron job fired", "job", job.ID, "agent", agentID, "key", key)
}
