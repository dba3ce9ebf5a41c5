package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentroute/internal/store"
)

// SessionStore implements store.SessionStore backed by the embedded
// sqlite database.
type SessionStore struct {
	db *sql.DB
}

var _ store.SessionStore = (*SessionStore)(nil)

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
	// ON CONFLICT DO NOTHING: the loser of a concurrent create race falls
	// through to the re-read below and observes the winner's row.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, session_key, agent_id, agent_cwd,
			chat_type, channel, account_id, group_id, subject, display_name,
			model_override, thinking_level, queue_mode, queue_debounce_ms,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO NOTHING`,
		uuid.Must(uuid.NewV7()).String(), key, agentID, agentCwd,
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
		`SELECT `+sessionColumns+` FROM sessions WHERE session_key = ?`, key)
	return scanEntry(row)
}

func (s *SessionStore) GetBySDKSessionID(ctx context.Context, sdkID string) (*store.SessionEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE sdk_session_id = ?`, sdkID)
	return scanEntry(row)
}

func (s *SessionStore) ListByAgent(ctx context.Context, agentID string) ([]*store.SessionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE agent_id = ? ORDER BY updated_at DESC`, agentID)
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

// UpdateTokens increments the accumulating counters and, when
// contextTokens >= 0, replaces the context snapshot.
func (s *SessionStore) UpdateTokens(ctx context.Context, key string, input, output, contextTokens int64) error {
	var res sql.Result
	var err error
	if contextTokens >= 0 {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?,
				total_tokens = total_tokens + ?,
				context_tokens = ?,
				updated_at = ?
			WHERE session_key = ?`,
			input, output, input+output, contextTokens, time.Now().UTC(), key)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions SET
				input_tokens = input_tokens + ?,
				output_tokens = output_tokens + ?,
				total_tokens = total_tokens + ?,
				updated_at = ?
			WHERE session_key = ?`,
			input, output, input+output, time.Now().UTC(), key)
	}
	if err != nil {
		return fmt.Errorf("update tokens for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) UpdateSDKSessionID(ctx context.Context, key, sdkID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET sdk_session_id = ?, updated_at = ? WHERE session_key = ?`,
		sdkID, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("update sdk session id for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) SetName(ctx context.Context, key, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET name = ?, updated_at = ? WHERE session_key = ?`,
		name, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set name for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) NameExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE name = ? COLLATE NOCASE`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check name %q: %w", name, err)
	}
	return n > 0, nil
}

func (s *SessionStore) SetLastRoute(ctx context.Context, key string, hint store.RouteHint) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			last_channel = ?, last_to = ?, last_account_id = ?, last_thread_id = ?,
			updated_at = ?
		WHERE session_key = ?`,
		hint.Channel, hint.To, hint.AccountID, hint.ThreadID, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set last route for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) SetSystemSent(ctx context.Context, key string, sent bool) error {
	return s.setFlag(ctx, key, "system_sent", sent)
}

func (s *SessionStore) SetAbortedLastRun(ctx context.Context, key string, aborted bool) error {
	return s.setFlag(ctx, key, "aborted_last_run", aborted)
}

func (s *SessionStore) setFlag(ctx context.Context, key, column string, v bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET `+column+` = ?, updated_at = ? WHERE session_key = ?`,
		boolInt(v), time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("set %s for %s: %w", column, key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) IncrementCompaction(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET compaction_count = compaction_count + 1, updated_at = ? WHERE session_key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("increment compaction for %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) Reset(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			sdk_session_id = NULL, system_sent = 0, aborted_last_run = 0,
			compaction_count = 0, context_tokens = 0, updated_at = ?
		WHERE session_key = ?`,
		time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return requireRow(res, key)
}

func (s *SessionStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key)
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
	var systemSent, aborted int
	err := row.Scan(
		&e.SessionKey, &sdkID, &e.AgentID, &e.AgentCwd,
		&e.ChatType, &e.Channel, &e.AccountID, &e.GroupID, &e.Subject, &e.DisplayName, &name,
		&e.LastChannel, &e.LastTo, &e.LastAccountID, &e.LastThreadID,
		&e.ModelOverride, &e.ThinkingLevel, &e.QueueMode, &e.QueueDebounceMs,
		&e.InputTokens, &e.OutputTokens, &e.TotalTokens, &e.ContextTokens,
		&systemSent, &aborted, &e.CompactionCount, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	e.SDKSessionID = sdkID.String
	e.Name = name.String
	e.SystemSent = systemSent != 0
	e.AbortedLastRun = aborted != 0
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

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
