package config

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/agentroute/internal/bus"
)

const (
	// fallbackRefreshInterval re-reads the config even when no
	// invalidation arrives, so a missed signal self-heals.
	fallbackRefreshInterval = 5 * time.Minute
	// watchRetryDelay is the fixed backoff before re-establishing a
	// failed file watch.
	watchRetryDelay = 10 * time.Second

	busSubscriberID = "config-store"
)

// Store caches the parsed RouterConfig as a single snapshot, replaced
// wholesale on refresh so concurrent readers never observe a half-updated
// configuration. Refresh is driven by three sources: bus invalidation
// events, a file watch, and a periodic fallback timer.
type Store struct {
	path string
	bus  bus.EventPublisher

	current atomic.Pointer[RouterConfig]

	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup
	stopFn  sync.Once
}

// NewStore loads the initial snapshot from path.
func NewStore(path string, publisher bus.EventPublisher) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, bus: publisher, stop: make(chan struct{})}
	s.current.Store(cfg)
	return s, nil
}

// NewStaticStore wraps an already-built snapshot. Used by tests and by
// embedders that manage configuration themselves; Refresh is a no-op.
func NewStaticStore(cfg *RouterConfig) *Store {
	s := &Store{stop: make(chan struct{})}
	s.current.Store(cfg)
	return s
}

// Current returns the cached snapshot. Never nil after NewStore.
func (s *Store) Current() *RouterConfig {
	return s.current.Load()
}

// Refresh reloads the file and swaps the snapshot. A broken config keeps
// the previous snapshot in place rather than leaving routing undefined.
func (s *Store) Refresh() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		slog.Warn("config refresh failed, keeping previous snapshot", "path", s.path, "error", err)
		return err
	}
	s.current.Store(cfg)
	slog.Debug("config refreshed", "agents", len(cfg.Agents), "routes", len(cfg.Routes))
	return nil
}

// Start spawns the refresh machinery: one bus subscription, one file-watch
// loop, one fallback ticker. Repeated Start calls are no-ops.
func (s *Store) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	if s.bus != nil {
		s.bus.Subscribe(busSubscriberID, func(ev bus.Event) {
			if ev.Name != bus.EventConfigInvalidate {
				return
			}
			s.Refresh()
		})
	}

	s.done.Add(2)
	go s.tickLoop()
	go s.watchLoop()
}

// Stop is idempotent: clears the timer and causes both loops to exit on
// their next iteration. In-flight refreshes are short and run to
// completion.
func (s *Store) Stop() {
	s.stopFn.Do(func() {
		s.running.Store(false)
		close(s.stop)
		if s.bus != nil {
			s.bus.Unsubscribe(busSubscriberID)
		}
	})
	s.done.Wait()
}

func (s *Store) tickLoop() {
	defer s.done.Done()
	ticker := time.NewTicker(fallbackRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Refresh()
		}
	}
}

// watchLoop keeps an fsnotify watch on the config file. On watcher error
// it backs off a fixed delay and re-subscribes, bounded only by the
// running flag.
func (s *Store) watchLoop() {
	defer s.done.Done()
	for s.running.Load() {
		if !s.watchOnce() {
			return
		}
		select {
		case <-s.stop:
			return
		case <-time.After(watchRetryDelay):
		}
	}
}

// watchOnce runs one watcher lifetime. Returns false when stopping.
func (s *Store) watchOnce() bool {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
		return true
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		// File may not exist yet; the fallback ticker still covers us.
		slog.Debug("config watch add failed", "path", s.path, "error", err)
		return true
	}

	for {
		select {
		case <-s.stop:
			return false
		case ev, ok := <-watcher.Events:
			if !ok {
				return true
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				s.Refresh()
			}
			// Editors often replace the file; the watch dies with the
			// old inode, so rebuild it.
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				return true
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return true
			}
			slog.Warn("config watch error", "error", err)
			return true
		}
	}
}
