package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store is the SQLite data access layer for serpent's run history.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sources (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL,
  hash            TEXT NOT NULL UNIQUE,
  content         TEXT NOT NULL,
  loaded_at       TIMESTAMP
);

CREATE TABLE IF NOT EXISTS functions (
  id              INTEGER PRIMARY KEY,
  source_id       INTEGER NOT NULL REFERENCES sources(id),
  function_id     INTEGER NOT NULL,
  name            TEXT NOT NULL,
  params          TEXT,
  external        BOOLEAN DEFAULT FALSE,
  line            INTEGER,
  shadowed        BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS runs (
  id              INTEGER PRIMARY KEY,
  source_id       INTEGER NOT NULL REFERENCES sources(id),
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP NOT NULL,
  outcome         TEXT NOT NULL,
  error           TEXT,
  entry_count     INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_statuses (
  id              INTEGER PRIMARY KEY,
  run_id          INTEGER NOT NULL REFERENCES runs(id),
  call_stack      TEXT NOT NULL,
  state           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS script_state (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL,
  updated_at      TIMESTAMP
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_functions_source ON functions(source_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_functions_source_id ON functions(source_id, function_id);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source_id);
CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
CREATE INDEX IF NOT EXISTS idx_run_statuses_run ON run_statuses(run_id);
CREATE INDEX IF NOT EXISTS idx_run_statuses_stack ON run_statuses(call_stack);
`

// PruneRuns keeps the newest keep runs and transactionally deletes the rest
// along with their statuses. keep <= 0 keeps everything. Returns the number
// of runs deleted.
func (s *Store) PruneRuns(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("prune runs: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id FROM runs ORDER BY id DESC LIMIT -1 OFFSET ?", keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: query: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("prune runs: scan: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("prune runs: rows: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := placeholderList(len(ids))
	args := int64sToArgs(ids)
	// Statuses first, runs second.
	for _, q := range []string{
		"DELETE FROM run_statuses WHERE run_id IN (" + placeholders + ")",
		"DELETE FROM runs WHERE id IN (" + placeholders + ")",
	} {
		if _, err := tx.Exec(q, args...); err != nil {
			return 0, fmt.Errorf("prune runs: delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("prune runs: commit: %w", err)
	}
	return len(ids), nil
}
