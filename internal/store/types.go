package store

import "time"

// Outcome is the result of one pass.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomeSkipped marks a pass over a source without a main function.
	OutcomeSkipped Outcome = "skipped"
)

// Source is one distinct program text, keyed by content hash.
type Source struct {
	ID       int64
	Path     string
	Hash     string
	Content  string
	LoadedAt time.Time
}

// Function is one linked function of a source, in declaration order.
type Function struct {
	ID         int64
	SourceID   int64
	FunctionID int
	Name       string
	Params     []string
	External   bool
	Line       int
	Shadowed   bool
}

// Run is one recorded pass.
type Run struct {
	ID         int64
	SourceID   int64
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Error      string
	EntryCount int
}

// Duration returns how long the pass took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStatus is the final state of one call path in a run.
type RunStatus struct {
	ID        int64
	RunID     int64
	CallStack string
	State     string
}

// StateEntry is one persisted key of script state.
type StateEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
