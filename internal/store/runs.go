package store

import (
	"database/sql"
	"fmt"
)

const runColumns = "id, source_id, started_at, finished_at, outcome, error, entry_count"

// RunByID returns the run with the given id, or ErrRunNotFound.
func (s *Store) RunByID(id int64) (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("run by id: %w", err)
	}
	return run, nil
}

// LatestRun returns the most recent run, or ErrRunNotFound when the history
// is empty.
func (s *Store) LatestRun() (*Run, error) {
	run, err := scanRun(s.db.QueryRow("SELECT " + runColumns + " FROM runs ORDER BY id DESC LIMIT 1"))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("latest run: %w", ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return run, nil
}

// Runs returns runs newest first. limit <= 0 means no limit.
func (s *Store) Runs(limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryRuns("SELECT "+runColumns+" FROM runs ORDER BY id DESC LIMIT ? OFFSET ?", limit, offset)
}

// RunsByOutcome returns runs with the given outcome, newest first.
func (s *Store) RunsByOutcome(outcome Outcome, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryRuns("SELECT "+runColumns+" FROM runs WHERE outcome = ? ORDER BY id DESC LIMIT ?", string(outcome), limit)
}

// CountRuns returns the number of recorded runs.
func (s *Store) CountRuns() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// StatusesByRun returns the final statuses of a run in insertion order.
func (s *Store) StatusesByRun(runID int64) ([]RunStatus, error) {
	rows, err := s.db.Query(
		"SELECT id, run_id, call_stack, state FROM run_statuses WHERE run_id = ? ORDER BY id", runID,
	)
	if err != nil {
		return nil, fmt.Errorf("statuses by run: %w", err)
	}
	defer rows.Close()
	var statuses []RunStatus
	for rows.Next() {
		var st RunStatus
		if err := rows.Scan(&st.ID, &st.RunID, &st.CallStack, &st.State); err != nil {
			return nil, fmt.Errorf("scan run status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *Store) queryRuns(query string, args ...any) ([]*Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var outcome string
	var errText sql.NullString
	if err := row.Scan(&run.ID, &run.SourceID, &run.StartedAt, &run.FinishedAt, &outcome, &errText, &run.EntryCount); err != nil {
		return nil, err
	}
	run.Outcome = Outcome(outcome)
	run.Error = errText.String
	return run, nil
}
