package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/agentroute/internal/store"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	s := NewSessionStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreate_CreateOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "agent:main:main", "main", "/work/main", &store.SessionDefaults{
		ChatType: "dm", Channel: "whatsapp",
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.AgentID != "main" || first.AgentCwd != "/work/main" || first.Channel != "whatsapp" {
		t.Errorf("created entry = %+v", first)
	}
	if first.InputTokens != 0 || first.TotalTokens != 0 {
		t.Errorf("counters must start at zero, got %+v", first)
	}

	// A second call with different values must not overwrite anything.
	second, err := s.GetOrCreate(ctx, "agent:main:main", "other", "/elsewhere", &store.SessionDefaults{
		ChatType: "group", Channel: "telegram",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.AgentID != "main" || second.AgentCwd != "/work/main" || second.Channel != "whatsapp" {
		t.Errorf("existing row was modified: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("createdAt changed: %v vs %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestGetOrCreate_ConcurrentSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrCreate(ctx, "agent:main:dm:555", "main", "", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent create: %v", err)
		}
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("got %d rows, want 1", len(all))
	}
}

func TestUpdateTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}

	// Input/output/total accumulate.
	for i := 0; i < 2; i++ {
		if err := s.UpdateTokens(ctx, key, 10, 5, -1); err != nil {
			t.Fatal(err)
		}
	}
	e, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if e.InputTokens != 20 || e.OutputTokens != 10 || e.TotalTokens != 30 {
		t.Errorf("tokens = %d/%d/%d, want 20/10/30", e.InputTokens, e.OutputTokens, e.TotalTokens)
	}
	if e.ContextTokens != 0 {
		t.Errorf("contextTokens = %d, want 0 (no snapshot passed)", e.ContextTokens)
	}

	// The context snapshot replaces, never accumulates.
	if err := s.UpdateTokens(ctx, key, 0, 0, 42); err != nil {
		t.Fatal(err)
	}
	e, _ = s.Get(ctx, key)
	if e.ContextTokens != 42 {
		t.Errorf("contextTokens = %d, want 42", e.ContextTokens)
	}
	if e.InputTokens != 20 || e.TotalTokens != 30 {
		t.Errorf("snapshot update touched the counters: %+v", e)
	}

	if err := s.UpdateTokens(ctx, "agent:missing:main", 1, 1, -1); err == nil {
		t.Error("update on missing key must error")
	}
}

func TestSDKSessionBinding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateSDKSessionID(ctx, key, "sdk-abc"); err != nil {
		t.Fatal(err)
	}
	e, err := s.GetBySDKSessionID(ctx, "sdk-abc")
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.SessionKey != key {
		t.Errorf("lookup by sdk id = %+v", e)
	}

	// Last write wins.
	if err := s.UpdateSDKSessionID(ctx, key, "sdk-def"); err != nil {
		t.Fatal(err)
	}
	if e, _ := s.GetBySDKSessionID(ctx, "sdk-abc"); e != nil {
		t.Errorf("stale sdk id still resolves: %+v", e)
	}
}

func TestNameExists_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SetName(ctx, key, "main-dm-555"); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"main-dm-555", "MAIN-DM-555", "Main-Dm-555"} {
		ok, err := s.NameExists(ctx, name)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("NameExists(%q) = false, want true", name)
		}
	}
	ok, err := s.NameExists(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("NameExists(other) = true, want false")
	}
}

func TestFlagsAndCompaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}

	if err := s.SetSystemSent(ctx, key, true); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAbortedLastRun(ctx, key, true); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementCompaction(ctx, key); err != nil {
		t.Fatal(err)
	}
	if err := s.IncrementCompaction(ctx, key); err != nil {
		t.Fatal(err)
	}

	e, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !e.SystemSent || !e.AbortedLastRun || e.CompactionCount != 2 {
		t.Errorf("flags = %+v", e)
	}
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSDKSessionID(ctx, key, "sdk-abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTokens(ctx, key, 100, 50, 7000); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSystemSent(ctx, key, true); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(ctx, key); err != nil {
		t.Fatal(err)
	}
	e, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if e.SDKSessionID != "" || e.SystemSent || e.CompactionCount != 0 || e.ContextTokens != 0 {
		t.Errorf("reset left state behind: %+v", e)
	}
	// Accumulated totals survive a reset.
	if e.InputTokens != 100 || e.TotalTokens != 150 {
		t.Errorf("reset cleared token totals: %+v", e)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "agent:main:dm:555"
	if _, err := s.GetOrCreate(ctx, key, "main", "", nil); err != nil {
		t.Fatal(err)
	}

	existed, err := s.Delete(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Error("delete of existing row reported existed=false")
	}
	existed, err = s.Delete(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Error("second delete reported existed=true")
	}
	if e, _ := s.Get(ctx, key); e != nil {
		t.Errorf("row still present: %+v", e)
	}
}

func TestListByAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"agent:main:dm:1", "agent:main:dm:2", "agent:other:dm:3"} {
		agent := "main"
		if key == "agent:other:dm:3" {
			agent = "other"
		}
		if _, err := s.GetOrCreate(ctx, key, agent, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	// Touch the older session so it sorts first.
	if err := s.UpdateTokens(ctx, "agent:main:dm:1", 1, 1, -1); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListByAgent(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sessions, want 2", len(got))
	}
	if got[0].SessionKey != "agent:main:dm:1" {
		t.Errorf("most recently updated first: got %q", got[0].SessionKey)
	}
}
