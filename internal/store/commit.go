package store

import (
	"database/sql"
	"fmt"
)

// CommitRun inserts a finished run and its final statuses within a single
// transaction. run.ID and each status's RunID are set from the new row.
func (s *Store) CommitRun(run *Run, statuses []RunStatus) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("commit run: begin: %w", err)
	}
	defer tx.Rollback()

	run.EntryCount = len(statuses)
	runID, err := insertRunTx(tx, run)
	if err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO run_statuses (run_id, call_stack, state) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("commit run: prepare: %w", err)
	}
	defer stmt.Close()
	for i := range statuses {
		st := &statuses[i]
		st.RunID = runID
		res, err := stmt.Exec(st.RunID, st.CallStack, st.State)
		if err != nil {
			return 0, fmt.Errorf("commit run: status %s: %w", st.CallStack, err)
		}
		if st.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("commit run: status id: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	run.ID = runID
	return runID, nil
}

func insertRunTx(tx *sql.Tx, run *Run) (int64, error) {
	res, err := tx.Exec(
		`INSERT INTO runs (source_id, started_at, finished_at, outcome, error, entry_count)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.SourceID, run.StartedAt, run.FinishedAt, string(run.Outcome), run.Error, run.EntryCount,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
