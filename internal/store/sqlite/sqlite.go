// Package sqlite is the process-local persistence layer backing the
// Session Registry, Action Log, Api Call Log, and the dashboard companion
// tables (plans, phases, tasks, dreyfus assessments, katas, learning
// materials) enumerated in §6 of the spec. It is the SQLite-equivalent
// store named there, implemented with the pure-Go modernc.org/sqlite
// driver (no cgo), matching the choice made by nevindra-oasis and
// vanducng-goclaw in the example pack for the same concern.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"goa.design/clue/health"
)

const clientName = "paige-sqlite"

// DB wraps a *sql.DB opened against the modernc.org/sqlite driver, applying
// the schema on open.
type DB struct {
	conn *sql.DB
}

var _ health.Pinger = (*DB)(nil)

// Open opens (creating if necessary) the SQLite database at path and
// applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// Writes are serialized per §5. With a single open connection, reads
	// are serialized as well.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

// Name implements health.Pinger.
func (db *DB) Name() string { return clientName }

// Ping implements health.Pinger.
func (db *DB) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return db.conn.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) migrate(ctx context.Context) error {
	_, err := db.conn.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_dir TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP,
	issue_number INTEGER,
	issue_title TEXT,
	branch_name TEXT,
	stash_name TEXT
);

CREATE TABLE IF NOT EXISTS action_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	action_type TEXT NOT NULL,
	data_json TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_action_log_session ON action_log(session_id);
CREATE INDEX IF NOT EXISTS idx_action_log_session_type ON action_log(session_id, action_type);

CREATE TABLE IF NOT EXISTS api_call_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	call_type TEXT NOT NULL,
	model TEXT NOT NULL,
	input_hash TEXT,
	latency_ms INTEGER NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_estimate REAL NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_api_call_log_session ON api_call_log(session_id);

CREATE TABLE IF NOT EXISTS plans (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	title TEXT NOT NULL,
	summary TEXT
);

CREATE TABLE IF NOT EXISTS phases (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id INTEGER NOT NULL REFERENCES plans(id),
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	summary TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	phase_id INTEGER NOT NULL REFERENCES phases(id),
	title TEXT NOT NULL,
	description TEXT,
	target_files_json TEXT,
	hints_json TEXT
);

CREATE TABLE IF NOT EXISTS dreyfus_assessments (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	area TEXT NOT NULL,
	level INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS katas (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	title TEXT NOT NULL,
	prompt TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS learning_materials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL REFERENCES sessions(id),
	title TEXT NOT NULL,
	url TEXT,
	kind TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// nowUTC is split out so tests can observe timestamp handling consistently.
func nowUTC() time.Time { return time.Now().UTC() }
