package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// insertTestSource is a helper that stores a source and returns it with ID set.
func insertTestSource(t *testing.T, s *Store, content string) *Source {
	t.Helper()
	src := &Source{
		Path:     "main.py",
		Hash:     HashSource([]byte(content)),
		Content:  content,
		LoadedAt: time.Now().UTC().Truncate(time.Second),
	}
	id, err := s.UpsertSource(src)
	require.NoError(t, err)
	require.Positive(t, id)
	return src
}

// commitTestRun records a run with the given outcome and statuses.
func commitTestRun(t *testing.T, s *Store, sourceID int64, outcome Outcome, statuses ...RunStatus) *Run {
	t.Helper()
	start := time.Now().UTC().Truncate(time.Second)
	run := &Run{
		SourceID:   sourceID,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
		Outcome:    outcome,
	}
	_, err := s.CommitRun(run, statuses)
	require.NoError(t, err)
	require.Positive(t, run.ID)
	return run
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"metadata", "sources", "functions", "runs", "run_statuses", "script_state"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestHashSource(t *testing.T) {
	t.Parallel()
	a := HashSource([]byte("def main():\n    pass\n"))
	b := HashSource([]byte("def main():\n    pass\n"))
	c := HashSource([]byte("def main():\n    f()\n"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

// =============================================================================
// Sources & functions
// =============================================================================

func TestUpsertSource_DeduplicatesByHash(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	first := insertTestSource(t, s, "def main():\n    pass\n")
	second := insertTestSource(t, s, "def main():\n    pass\n")
	other := insertTestSource(t, s, "def main():\n    f()\n")

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, other.ID)

	got, err := s.SourceByHash(first.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.Content, got.Content)
	assert.Equal(t, "main.py", got.Path)

	byID, err := s.SourceByID(other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.Hash, byID.Hash)
}

func TestSourceByHash_Missing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.SourceByHash("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReplaceFunctions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := insertTestSource(t, s, "x")

	require.NoError(t, s.ReplaceFunctions(src.ID, []*Function{
		{FunctionID: 0, Name: "main", Line: 1},
		{FunctionID: 1, Name: "deploy", Params: []string{"env", "tag"}, External: true, Line: 5},
	}))
	// Replacing again drops the previous catalog.
	fns := []*Function{
		{FunctionID: 0, Name: "f", Line: 1, Shadowed: true},
		{FunctionID: 1, Name: "main", Line: 4},
		{FunctionID: 2, Name: "f", Params: []string{"x"}, Line: 7},
	}
	require.NoError(t, s.ReplaceFunctions(src.ID, fns))
	for _, fn := range fns {
		assert.Positive(t, fn.ID)
		assert.Equal(t, src.ID, fn.SourceID)
	}

	got, err := s.FunctionsBySource(src.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "f", got[0].Name)
	assert.True(t, got[0].Shadowed)
	assert.Empty(t, got[0].Params)
	assert.Equal(t, []string{"x"}, got[2].Params)
	assert.Equal(t, 7, got[2].Line)
	assert.False(t, got[1].External)
}

// =============================================================================
// Runs
// =============================================================================

func TestCommitRun_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := insertTestSource(t, s, "x")

	statuses := []RunStatus{
		{CallStack: "f:0", State: "Failed"},
		{CallStack: "f:0/s:0/f:1", State: "Failed"},
		{CallStack: "f:0/s:1", State: "NotRun"},
	}
	run := commitTestRun(t, s, src.ID, OutcomeFailed, statuses...)
	assert.Equal(t, 3, run.EntryCount)
	for _, st := range statuses {
		assert.Equal(t, run.ID, st.RunID)
	}

	got, err := s.RunByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, got.Outcome)
	assert.Equal(t, src.ID, got.SourceID)
	assert.Equal(t, 3, got.EntryCount)
	assert.Equal(t, 2*time.Second, got.Duration())

	stored, err := s.StatusesByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "f:0/s:0/f:1", stored[1].CallStack)
	assert.Equal(t, "Failed", stored[1].State)
}

func TestCommitRun_KeepsErrorText(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := insertTestSource(t, s, "x")
	run := &Run{
		SourceID:   src.ID,
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
		Outcome:    OutcomeFailed,
		Error:      "runtime error in deploy",
	}
	_, err := s.CommitRun(run, nil)
	require.NoError(t, err)

	got, err := s.RunByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "runtime error in deploy", got.Error)
	assert.Equal(t, 0, got.EntryCount)
}

func TestCommitRun_UnknownSourceRollsBack(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	run := &Run{SourceID: 999, StartedAt: time.Now(), FinishedAt: time.Now(), Outcome: OutcomeSuccess}
	_, err := s.CommitRun(run, []RunStatus{{CallStack: "f:0", State: "Successful"}})
	require.Error(t, err)

	n, err := s.CountRuns()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunByID_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.RunByID(42)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = s.LatestRun()
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestRuns_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := insertTestSource(t, s, "x")

	var ids []int64
	for _, o := range []Outcome{OutcomeSuccess, OutcomeFailed, OutcomeSuccess, OutcomeSkipped} {
		ids = append(ids, commitTestRun(t, s, src.ID, o).ID)
	}

	all, err := s.Runs(0, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID)
	assert.Equal(t, ids[0], all[3].ID)

	page, err := s.Runs(2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)
	assert.Equal(t, ids[1], page[1].ID)

	latest, err := s.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, latest.Outcome)

	succeeded, err := s.RunsByOutcome(OutcomeSuccess, 0)
	require.NoError(t, err)
	require.Len(t, succeeded, 2)
	assert.Equal(t, ids[2], succeeded[0].ID)
}

func TestPruneRuns(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	src := insertTestSource(t, s, "x")

	var runs []*Run
	for range 5 {
		runs = append(runs, commitTestRun(t, s, src.ID, OutcomeSuccess, RunStatus{CallStack: "f:0", State: "Successful"}))
	}

	deleted, err := s.PruneRuns(2)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	n, err := s.CountRuns()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.RunByID(runs[0].ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	statuses, err := s.StatusesByRun(runs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	kept, err := s.StatusesByRun(runs[4].ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	deleted, err = s.PruneRuns(0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	deleted, err = s.PruneRuns(10)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

// =============================================================================
// Script state
// =============================================================================

func TestScriptState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, ok, err := s.GetState("counter")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetState("counter", "1"))
	require.NoError(t, s.SetState("counter", "2"))
	require.NoError(t, s.SetState("name", `"web"`))

	v, ok, err := s.GetState("counter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	entries, err := s.States()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "counter", entries[0].Key)
	assert.Equal(t, `"web"`, entries[1].Value)

	require.NoError(t, s.DeleteState("counter"))
	require.NoError(t, s.DeleteState("counter"))
	_, ok, err = s.GetState("counter")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadata(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v, err := s.GetMetadata("scripts_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMetadata("scripts_hash", "abc"))
	require.NoError(t, s.SetMetadata("scripts_hash", "def"))
	v, err = s.GetMetadata("scripts_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}
