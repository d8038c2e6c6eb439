package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Migrate())
	require.NoError(t, s.Migrate())
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id := uuid.New().String()
	started := time.Now().Truncate(time.Second)
	require.NoError(t, s.BeginRun(id, "csv", started))

	r, err := s.RunByID(id)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "csv", r.OutputFormat)
	assert.Nil(t, r.FinishedAt)
	assert.Zero(t, r.QueriesRun)

	finished := started.Add(5 * time.Second)
	require.NoError(t, s.FinishRun(id, "hydra_output-x.csv", 7, 42, finished))

	r, err = s.RunByID(id)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NotNil(t, r.FinishedAt)
	assert.Equal(t, 7, r.QueriesRun)
	assert.Equal(t, 42, r.TotalFindings)
	assert.Equal(t, "hydra_output-x.csv", r.OutputPath)
}

func TestRunByID_Unknown(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	r, err := s.RunByID("missing")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRecordJob_AndJobsForRun(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	id := uuid.New().String()
	require.NoError(t, s.BeginRun(id, "csv", time.Now()))

	first := &JobRecord{RunID: id, QueryPath: "/q/a.ql", Language: "java", Status: "success", Findings: 3}
	second := &JobRecord{RunID: id, QueryPath: "/q/b.ql", Language: "python", Status: "failed", ErrorText: "boom"}

	_, err := s.RecordJob(first)
	require.NoError(t, err)
	_, err = s.RecordJob(second)
	require.NoError(t, err)

	recs, err := s.JobsForRun(id)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/q/a.ql", recs[0].QueryPath)
	assert.Equal(t, 3, recs[0].Findings)
	assert.Equal(t, "failed", recs[1].Status)
	assert.Equal(t, "boom", recs[1].ErrorText)
}

func TestRecentRuns_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	old := uuid.New().String()
	recent := uuid.New().String()
	require.NoError(t, s.BeginRun(old, "csv", base))
	require.NoError(t, s.BeginRun(recent, "sarif", base.Add(time.Minute)))

	runs, err := s.RecentRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, recent, runs[0].ID)
	assert.Equal(t, old, runs[1].ID)
}
