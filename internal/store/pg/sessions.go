// Package pg is the managed-mode Postgres session store. Schema lives in
// migrations/postgres and is applied via `agentroute migrate`.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/agentroute/internal/store"
)

// SessionStore implements store.SessionStore backed by Postgres.
type SessionStore struct {
	db *sql.DB
}

var _ store.SessionStore = (*SessionStore)(nil)

// Open connects to Postgres with the pgx database/sql driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `session_key, sdk_session_id, agent_id, agent_cwd,
	chat_type, channel, account_id, group_id, subject, display_name, name,
	last_channel, last_to, last_account_id, last_thread_id,
	model_override, thinking_level, queue_mode, queue_debounce_ms,
	input_tokens, output_tokens, total_tokens, context_tokens,
	system_sent, aborted_last_run, compaction_count, created_at, updated_at`

func (s *SessionStore) GetOrCreate(ctx context.Context, key, agentID, agentCwd string, defaults *store.SessionDefaults) (*store.SessionEntry, error) {
	if e, err := s.Get(ctx, key); err != nil || e != nil {
		return e, err
	}

	d := defaults
	if d == nil {
		d = &store.SessionDefaults{}
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, session_key, agent_id, agent_cwd,
			chat_type, channel, account_id, group_id, subject, display_name,
			model_override, thinking_level, queue_mode, queue_debounce_ms,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (session_key) DO NOTHING`,
		uuid.Must(uuid.NewV7()), key, agentID, agentCwd,
		d.ChatType, d.Channel, d.AccountID, d.GroupID, d.Subject, d.DisplayName,
		d.ModelOverride, d.ThinkingLevel, d.QueueMode, d.QueueDebounceMs,
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session %s: %w", key, err)
	}

	e, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("session %s vanished after insert", key)
	}
	return e, nil
}

func (s *SessionStore) Get(ctx context.Context, key string) (*store.SessionEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_key = $1`, key)
	return scanEntry(row)
}

func (s *SessionStore) GetBySDKSessionID(ctx context.Context, sdkID string) (*store.SessionEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sdk_session_id = $1`, sdkID)
	return scanEntry(row)
}

func (s *SessionStore) ListByAgent(ctx context.Context, agentID string) ([]*store.SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE agent_id = $1 ORDER BY updated_at DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", agentID, err)
	}
	return scanEntries(rows)
}

func (s *SessionStore) List(ctx context.Context) ([]*store.SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return scanEntries(rows)
}

func (s *SessionStore) UpdateTokens(ctx context.Context, key string, input, output, contextTokens int64) error {
	var res sql.Result
	var err error
	if contextTokens >= 0 {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET
				input_tokens = input_tokens + $1,
				output_tokens = output_tokens + $2,
				total_tokens = total_tokens + $3,
				context_tokens = $4,
				updated_at = $5
			WHERE session_key = $6`,
			input, output, input+output, contextTokens, time.Now().UTC(), key)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET
				input_tokens = input_tokens + $1,
				output_tokens = output_tokens + $2,
				total_tokens = total_tokens + $3,
				updated_at = $4
			WHERE session_key = $5`,
			input, output, input+output, time.Now().UTC(), key)
	}
	if err != nil {
		return fmt.Errorf("update tokens for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) UpdateSDKSessionID(ctx context.Context, key, sdkID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET sdk_session_id = $1, updated_at = $2 WHERE session_key = $3`,
		sdkID, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("update sdk session id for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) SetName(ctx context.Context, key, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = $1, updated_at = $2 WHERE session_key = $3`,
		name, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set name for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) NameExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE lower(name) = lower($1)`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check name %q: %w", name, err)
	}
	return n > 0, nil
}

func (s *SessionStore) SetLastRoute(ctx context.Context, key string, hint store.RouteHint) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			last_channel = $1, last_to = $2, last_account_id = $3, last_thread_id = $4,
			updated_at = $5
		WHERE session_key = $6`,
		hint.Channel, hint.To, hint.AccountID, hint.ThreadID, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set last route for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) SetSystemSent(ctx context.Context, key string, sent bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET system_sent = $1, updated_at = $2 WHERE session_key = $3`,
		sent, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set system_sent for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) SetAbortedLastRun(ctx context.Context, key string, aborted bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET aborted_last_run = $1, updated_at = $2 WHERE session_key = $3`,
		aborted, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set aborted_last_run for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) IncrementCompaction(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET compaction_count = compaction_count + 1, updated_at = $1 WHERE session_key = $2`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("increment compaction for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) Reset(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			sdk_session_id = NULL, system_sent = FALSE, aborted_last_run = FALSE,
			compaction_count = 0, context_tokens = 0, updated_at = $1
		WHERE session_key = $2`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }

// --- helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*store.SessionEntry, error) {
	var e store.SessionEntry
	var sdkID, name sql.NullString
	err := row.Scan(
		&e.SessionKey, &sdkID, &e.AgentID, &e.AgentCwd,
		&e.ChatType, &e.Channel, &e.AccountID, &e.GroupID, &e.Subject, &e.DisplayName, &name,
		&e.LastChannel, &e.LastTo, &e.LastAccountID, &e.LastThreadID,
		&e.ModelOverride, &e.ThinkingLevel, &e.QueueMode, &e.QueueDebounceMs,
		&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.ContextTokens,
		&e.SystemSent, &e.AbortedLastRun, &e.CompactionCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	e.SDKSessionID = sdkID.String
	e.Name = name.String
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*store.SessionEntry, error) {
	defer rows.Close()
	var out []*store.SessionEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, key string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", key)
	}
	return nil
}
