// Package store defines the storage interfaces for the routing engine.
// Backends live in store/sqlite (embedded, default) and store/pg
// (managed mode).
package store

import (
	"context"
	"time"
)

// SessionEntry is the durable record for one conversation. The session key
// is immutable once created; Name is unique across all rows
// (case-insensitive) and never contains ':' or '.'.
type SessionEntry struct {
	SessionKey   string `json:"sessionKey"`
	SDKSessionID string `json:"sdkSessionId,omitempty"` // set by the execution engine after a turn
	AgentID      string `json:"agentId"`
	AgentCwd     string `json:"agentCwd,omitempty"`

	// Descriptive metadata.
	ChatType    string `json:"chatType,omitempty"` // "dm", "group", "channel"
	Channel     string `json:"channel,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
	GroupID     string `json:"groupId,omitempty"`
	Subject     string `json:"subject,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Name        string `json:"name,omitempty"`

	// Last-contact routing hints, used to re-address proactive replies.
	LastChannel   string `json:"lastChannel,omitempty"`
	LastTo        string `json:"lastTo,omitempty"`
	LastAccountID string `json:"lastAccountId,omitempty"`
	LastThreadID  string `json:"lastThreadId,omitempty"`

	// Per-session overrides.
	ModelOverride   string `json:"modelOverride,omitempty"`
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	QueueMode       string `json:"queueMode,omitempty"`
	QueueDebounceMs int    `json:"queueDebounceMs,omitempty"`

	// Accounting. Input/output/total accumulate; ContextTokens is a
	// snapshot of the current context size, not a running sum.
	InputTokens   int64 `json:"inputTokens"`
	OutputTokens  int64 `json:"outputTokens"`
	TotalTokens   int64 `json:"totalTokens"`
	ContextTokens int64 `json:"contextTokens"`

	SystemSent      bool `json:"systemSent"`
	AbortedLastRun  bool `json:"abortedLastRun"`
	CompactionCount int  `json:"compactionCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionDefaults enumerates every field a caller may seed at creation.
// Unset fields stay zero; GetOrCreate never applies defaults to an
// existing row.
type SessionDefaults struct {
	ChatType        string
	Channel         string
	AccountID       string
	GroupID         string
	Subject         string
	DisplayName     string
	ModelOverride   string
	ThinkingLevel   string
	QueueMode       string
	QueueDebounceMs int
}

// RouteHint records where the last inbound message for a session came
// from, so proactive replies can be addressed back.
type RouteHint struct {
	Channel   string
	To        string
	AccountID string
	ThreadID  string
}

// SessionStore is durable CRUD over SessionEntry.
//
// GetOrCreate is create-once: an existing row is returned unchanged even
// when different agentID/agentCwd/defaults are passed. Concurrent creates
// for the same key must not both insert — the loser of the race reads the
// winner's row.
//
// UpdateTokens is additive on input/output/total and replaces
// ContextTokens with the given snapshot; contextTokens < 0 means "no
// snapshot provided". Operations other than GetOrCreate and Delete on a
// missing key are caller errors and are surfaced.
type SessionStore interface {
	GetOrCreate(ctx context.Context, key, agentID, agentCwd string, defaults *SessionDefaults) (*SessionEntry, error)
	Get(ctx context.Context, key string) (*SessionEntry, error)
	GetBySDKSessionID(ctx context.Context, sdkID string) (*SessionEntry, error)
	ListByAgent(ctx context.Context, agentID string) ([]*SessionEntry, error)
	List(ctx context.Context) ([]*SessionEntry, error)

	UpdateTokens(ctx context.Context, key string, input, output, contextTokens int64) error
	UpdateSDKSessionID(ctx context.Context, key, sdkID string) error
	SetName(ctx context.Context, key, name string) error
	NameExists(ctx context.Context, name string) (bool, error)
	SetLastRoute(ctx context.Context, key string, hint RouteHint) error
	SetSystemSent(ctx context.Context, key string, sent bool) error
	SetAbortedLastRun(ctx context.Context, key string, aborted bool) error
	IncrementCompaction(ctx context.Context, key string) error

	// Reset clears the SDK binding, flags, compaction count, and the
	// context snapshot; accumulated token totals are kept.
	Reset(ctx context.Context, key string) error
	// Delete reports whether a row existed.
	Delete(ctx context.Context, key string) (bool, error)

	Close() error
}
