// Package journal provides the two durable logs the tool loop and streaming
// controller depend on for crash recovery: the Stream Journal (per-step
// provider deltas) and the Tool Journal (per-batch tool call/result
// records). Both share one sqlite database file, grounded on the teacher's
// internal/session/sqlite.go (WAL mode, busy_timeout, schema-versioned
// migrations, a single database backing more than one logical table).
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS stream_steps (
	step_id INTEGER PRIMARY KEY,
	sealed BOOLEAN NOT NULL DEFAULT FALSE,
	outcome TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS stream_deltas (
	step_id INTEGER NOT NULL REFERENCES stream_steps(step_id) ON DELETE CASCADE,
	sequence INTEGER NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (step_id, sequence)
);

CREATE TABLE IF NOT EXISTS tool_batches (
	batch_id INTEGER PRIMARY KEY,
	step_id INTEGER NOT NULL,
	model TEXT NOT NULL,
	assistant_text TEXT NOT NULL DEFAULT '',
	thinking_replay TEXT,
	calls TEXT NOT NULL,
	committed BOOLEAN NOT NULL DEFAULT FALSE,
	discarded BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS tool_processes (
	batch_id INTEGER NOT NULL REFERENCES tool_batches(batch_id) ON DELETE CASCADE,
	call_id TEXT NOT NULL,
	pid INTEGER,
	started_at_ms INTEGER NOT NULL,
	PRIMARY KEY (batch_id, call_id)
);

CREATE TABLE IF NOT EXISTS tool_results (
	batch_id INTEGER NOT NULL REFERENCES tool_batches(batch_id) ON DELETE CASCADE,
	call_id TEXT NOT NULL,
	content TEXT NOT NULL,
	is_error BOOLEAN NOT NULL,
	PRIMARY KEY (batch_id, call_id)
);

CREATE INDEX IF NOT EXISTS idx_stream_deltas_step ON stream_deltas(step_id, sequence);
CREATE INDEX IF NOT EXISTS idx_tool_results_batch ON tool_results(batch_id);
`

const schemaVersion = 1

// DB wraps the shared sqlite handle for both journals.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the journal database at path, applying
// the same WAL/busy_timeout/synchronous pragma set the teacher's session
// store uses for concurrent single-writer access.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("journal: create data directory: %w", err)
		}
	}
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // the engine thread is the sole writer (spec.md §5)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: initialize schema: %w", err)
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}
