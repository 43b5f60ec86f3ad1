package serpent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jward/serpent/internal/store"
	"github.com/jward/serpent/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueryBuilder(t *testing.T) (*QueryBuilder, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return &QueryBuilder{store: s}, s
}

func insertSource(t *testing.T, s *store.Store, path, content string) *store.Source {
	t.Helper()
	src := &store.Source{Path: path, Hash: store.HashSource([]byte(content)), Content: content, LoadedAt: time.Now()}
	_, err := s.UpsertSource(src)
	require.NoError(t, err)
	return src
}

func commitRun(t *testing.T, s *store.Store, sourceID int64, outcome Outcome, statuses ...store.RunStatus) int64 {
	t.Helper()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id, err := s.CommitRun(&store.Run{
		SourceID:   sourceID,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Outcome:    outcome,
	}, statuses)
	require.NoError(t, err)
	return id
}

func TestQuery_RunsJoinSources(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	a := insertSource(t, s, "a.py", "def main():\n    pass\n")
	b := insertSource(t, s, "b.py", "def main():\n    f()\n")

	first := commitRun(t, s, a.ID, OutcomeSuccess)
	second := commitRun(t, s, b.ID, OutcomeFailed)

	runs, err := q.Runs(0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0].ID)
	assert.Equal(t, "b.py", runs[0].Source)
	assert.Equal(t, b.Hash, runs[0].SourceHash)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, "a.py", runs[1].Source)
	assert.Equal(t, int64(1500), runs[1].DurationMS)
	assert.Equal(t, "2026-01-02T03:04:05Z", runs[1].StartedAt)

	failed, err := q.FailedRuns(0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, second, failed[0].ID)
}

func TestQuery_RunAndLatest(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	src := insertSource(t, s, "main.py", "x")

	_, err := q.LatestRun()
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	id := commitRun(t, s, src.ID, OutcomeSkipped)
	run, err := q.Run(id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, run.Outcome)

	latest, err := q.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, id, latest.ID)

	_, err = q.Run(id + 100)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestQuery_RunTrace(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	src := insertSource(t, s, "main.py", "x")

	id := commitRun(t, s, src.ID, OutcomeFailed,
		store.RunStatus{CallStack: "f:1", State: "Failed"},
		store.RunStatus{CallStack: "f:1/s:0", State: "PredicateSuccessful(false)"},
		store.RunStatus{CallStack: "f:1/s:0/s:1/f:0", State: "Failed"},
	)

	snap, err := q.RunTrace(id)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	cs, err := trace.ParseCallStack("f:1/s:0")
	require.NoError(t, err)
	assert.Equal(t, trace.PredicateSuccessful(false), snap.Status(cs))

	_, err = q.RunTrace(id + 1)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestQuery_RunTraceRejectsCorruptRows(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	src := insertSource(t, s, "main.py", "x")
	id := commitRun(t, s, src.ID, OutcomeSuccess, store.RunStatus{CallStack: "f:0", State: "Sleeping"})

	_, err := q.RunTrace(id)
	assert.Error(t, err)
}

func TestQuery_Outcomes(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	src := insertSource(t, s, "main.py", "x")
	for _, o := range []Outcome{OutcomeSuccess, OutcomeSuccess, OutcomeFailed} {
		commitRun(t, s, src.ID, o)
	}

	counts, err := q.Outcomes()
	require.NoError(t, err)
	assert.Equal(t, map[Outcome]int{OutcomeSuccess: 2, OutcomeFailed: 1}, counts)
}

func TestQuery_StatusHistory(t *testing.T) {
	t.Parallel()
	q, s := newTestQueryBuilder(t)
	src := insertSource(t, s, "main.py", "x")

	r1 := commitRun(t, s, src.ID, OutcomeSuccess, store.RunStatus{CallStack: "f:1/s:0/f:0", State: "Successful"})
	commitRun(t, s, src.ID, OutcomeFailed, store.RunStatus{CallStack: "f:1", State: "Failed"})
	r3 := commitRun(t, s, src.ID, OutcomeFailed, store.RunStatus{CallStack: "f:1/s:0/f:0", State: "Failed"})

	cs, err := trace.ParseCallStack("f:1/s:0/f:0")
	require.NoError(t, err)
	points, err := q.StatusHistory(cs, 0)
	require.NoError(t, err)
	assert.Equal(t, []StatusPoint{
		{RunID: r3, State: trace.Failed},
		{RunID: r1, State: trace.Successful},
	}, points)

	points, err = q.StatusHistory(cs, 1)
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestQuery_FunctionsUnknownSource(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueryBuilder(t)
	fns, err := q.Functions("missing")
	require.NoError(t, err)
	assert.Nil(t, fns)
}

func TestQuery_NilBuilder(t *testing.T) {
	t.Parallel()
	var q *QueryBuilder
	_, err := q.Outcomes()
	assert.ErrorIs(t, err, ErrNoStore)
}
