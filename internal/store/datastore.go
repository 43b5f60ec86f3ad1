package store

// RunStore is the slice of the Store the engine records passes through.
// Tests substitute an in-memory implementation.
type RunStore interface {
	UpsertSource(src *Source) (int64, error)
	ReplaceFunctions(sourceID int64, fns []*Function) error
	CommitRun(run *Run, statuses []RunStatus) (int64, error)
	PruneRuns(keep int) (int, error)
}

// Compile-time check: *Store satisfies RunStore.
var _ RunStore = (*Store)(nil)
