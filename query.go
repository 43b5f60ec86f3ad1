package serpent

import (
	"fmt"

	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/trace"
)

// QueryBuilder provides a read-only query API over the run history.
type QueryBuilder struct {
	store *store.Store
}

// NewQueryBuilder returns a QueryBuilder over an open Store, for reading
// the run history without an Engine.
func NewQueryBuilder(s *Store) *QueryBuilder {
	return &QueryBuilder{store: s}
}

func (q *QueryBuilder) check() error {
	if q == nil || q.store == nil {
		return ErrNoStore
	}
	return nil
}

// RunSummary is one recorded pass with the source it ran.
type RunSummary struct {
	ID         int64   `json:"id"`
	Source     string  `json:"source"`
	SourceHash string  `json:"source_hash"`
	Outcome    Outcome `json:"outcome"`
	Error      string  `json:"error,omitempty"`
	Entries    int     `json:"entries"`
	StartedAt  string  `json:"started_at"`
	DurationMS int64   `json:"duration_ms"`
}

// Runs lists recorded passes newest first. limit <= 0 returns every run.
func (q *QueryBuilder) Runs(limit, offset int) ([]RunSummary, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	runs, err := q.store.Runs(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("runs: %w", err)
	}
	return q.summarize(runs)
}

// FailedRuns lists failed passes newest first.
func (q *QueryBuilder) FailedRuns(limit int) ([]RunSummary, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	runs, err := q.store.RunsByOutcome(OutcomeFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed runs: %w", err)
	}
	return q.summarize(runs)
}

// Run returns one recorded pass. Wraps store.ErrRunNotFound when id is
// unknown.
func (q *QueryBuilder) Run(id int64) (*RunSummary, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	run, err := q.store.RunByID(id)
	if err != nil {
		return nil, fmt.Errorf("run %d: %w", id, err)
	}
	out, err := q.summarize([]*store.Run{run})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// LatestRun returns the most recently recorded pass.
func (q *QueryBuilder) LatestRun() (*RunSummary, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	run, err := q.store.LatestRun()
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	out, err := q.summarize([]*store.Run{run})
	if err != nil {
		return nil, err
	}
	return &out[0], nil
}

// summarize joins runs with their sources. Sources are loaded once each.
func (q *QueryBuilder) summarize(runs []*store.Run) ([]RunSummary, error) {
	sources := make(map[int64]*store.Source)
	out := make([]RunSummary, 0, len(runs))
	for _, r := range runs {
		src, ok := sources[r.SourceID]
		if !ok {
			var err error
			src, err = q.store.SourceByID(r.SourceID)
			if err != nil {
				return nil, fmt.Errorf("summarize run %d: source: %w", r.ID, err)
			}
			sources[r.SourceID] = src
		}
		s := RunSummary{
			ID:         r.ID,
			Outcome:    r.Outcome,
			Error:      r.Error,
			Entries:    r.EntryCount,
			StartedAt:  r.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			DurationMS: r.Duration().Milliseconds(),
		}
		if src != nil {
			s.Source = src.Path
			s.SourceHash = src.Hash
		}
		out = append(out, s)
	}
	return out, nil
}

// RunTrace rebuilds the final trace of a recorded pass.
func (q *QueryBuilder) RunTrace(id int64) (*Snapshot, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	if _, err := q.store.RunByID(id); err != nil {
		return nil, fmt.Errorf("run trace %d: %w", id, err)
	}
	statuses, err := q.store.StatusesByRun(id)
	if err != nil {
		return nil, fmt.Errorf("run trace %d: %w", id, err)
	}
	entries := make([]trace.Entry, 0, len(statuses))
	for _, st := range statuses {
		cs, err := trace.ParseCallStack(st.CallStack)
		if err != nil {
			return nil, fmt.Errorf("run trace %d: %w", id, err)
		}
		state, err := trace.ParseRunState(st.State)
		if err != nil {
			return nil, fmt.Errorf("run trace %d: %w", id, err)
		}
		entries = append(entries, trace.Entry{Stack: cs, State: state})
	}
	return trace.NewSnapshot(entries...), nil
}

// Outcomes counts recorded passes per outcome.
func (q *QueryBuilder) Outcomes() (map[Outcome]int, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	rows, err := q.store.DB().Query("SELECT outcome, COUNT(*) FROM runs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("outcomes: scan: %w", err)
		}
		counts[Outcome(o)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcomes: rows: %w", err)
	}
	return counts, nil
}

// StatusPoint is the final state of one call path in one run.
type StatusPoint struct {
	RunID int64    `json:"run_id"`
	State RunState `json:"state"`
}

// StatusHistory returns the final state of the call path cs across the
// newest limit runs, newest first. Runs that never reached cs are omitted;
// cs was NotRun in them.
func (q *QueryBuilder) StatusHistory(cs CallStack, limit int) ([]StatusPoint, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.store.DB().Query(
		`SELECT run_id, state FROM run_statuses
		 WHERE call_stack = ?
		 ORDER BY run_id DESC LIMIT ?`,
		cs.Key(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("status history: %w", err)
	}
	defer rows.Close()

	var points []StatusPoint
	for rows.Next() {
		var (
			p     StatusPoint
			state string
		)
		if err := rows.Scan(&p.RunID, &state); err != nil {
			return nil, fmt.Errorf("status history: scan: %w", err)
		}
		if p.State, err = trace.ParseRunState(state); err != nil {
			return nil, fmt.Errorf("status history: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status history: rows: %w", err)
	}
	return points, nil
}

// Functions returns the recorded function catalog of the source with the
// given hash, or nil if that source was never recorded.
func (q *QueryBuilder) Functions(sourceHash string) ([]*StoredFunction, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	src, err := q.store.SourceByHash(sourceHash)
	if err != nil {
		return nil, fmt.Errorf("functions: %w", err)
	}
	if src == nil {
		return nil, nil
	}
	fns, err := q.store.FunctionsBySource(src.ID)
	if err != nil {
		return nil, fmt.Errorf("functions: %w", err)
	}
	return fns, nil
}
