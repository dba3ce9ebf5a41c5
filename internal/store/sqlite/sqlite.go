// Package sqlite is the embedded session store backend. The database is
// opened by both the long-running gateway and short-lived CLI invocations,
// so it runs in WAL mode with a busy timeout: concurrent readers, single
// writer, busy-retry instead of hard lock errors.
package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (creating if necessary) the sessions database at path and
// ensures the base schema exists.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ensureSchema applies the base schema. Versioned evolution beyond this
// goes through `agentroute migrate` (migrations/sqlite), but a fresh
// standalone install must work with zero setup steps.
func ensureSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	session_key       TEXT NOT NULL UNIQUE,
	sdk_session_id    TEXT,
	agent_id          TEXT NOT NULL,
	agent_cwd         TEXT NOT NULL DEFAULT '',
	chat_type         TEXT NOT NULL DEFAULT '',
	channel           TEXT NOT NULL DEFAULT '',
	account_id        TEXT NOT NULL DEFAULT '',
	group_id          TEXT NOT NULL DEFAULT '',
	subject           TEXT NOT NULL DEFAULT '',
	display_name      TEXT NOT NULL DEFAULT '',
	name              TEXT,
	last_channel      TEXT NOT NULL DEFAULT '',
	last_to           TEXT NOT NULL DEFAULT '',
	last_account_id   TEXT NOT NULL DEFAULT '',
	last_thread_id    TEXT NOT NULL DEFAULT '',
	model_override    TEXT NOT NULL DEFAULT '',
	thinking_level    TEXT NOT NULL DEFAULT '',
	queue_mode        TEXT NOT NULL DEFAULT '',
	queue_debounce_ms INTEGER NOT NULL DEFAULT 0,
	input_tokens      INTEGER NOT NULL DEFAULT 0,
	output_tokens     INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	context_tokens    INTEGER NOT NULL DEFAULT 0,
	system_sent       INTEGER NOT NULL DEFAULT 0,
	aborted_last_run  INTEGER NOT NULL DEFAULT 0,
	compaction_count  INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_name
	ON sessions(name COLLATE NOCASE) WHERE name IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_sessions_sdk ON sessions(sdk_session_id);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
