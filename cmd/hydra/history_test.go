package main

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/hydra/internal/history"
)

func newSeededLedger(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.NewStore(filepath.Join(t.TempDir(), "hydra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	require.NoError(t, store.BeginRun("run-finished", "csv", started))
	_, err = store.RecordJob(&history.JobRecord{
		RunID: "run-finished", QueryPath: "/q/a.ql", Language: "java",
		Status: "success", Findings: 3,
	})
	require.NoError(t, err)
	_, err = store.RecordJob(&history.JobRecord{
		RunID: "run-finished", QueryPath: "/q/b.ql", Language: "python",
		Status: "failed", ErrorText: "compilation error",
	})
	require.NoError(t, err)
	require.NoError(t, store.FinishRun("run-finished", "/out/hydra_output.csv", 2, 3, started.Add(time.Minute)))

	require.NoError(t, store.BeginRun("run-open", "sarif", started.Add(time.Hour)))
	return store
}

func TestPrintRecentRuns(t *testing.T) {
	store := newSeededLedger(t)

	var buf bytes.Buffer
	require.NoError(t, printRecentRuns(&buf, store, 20))
	out := buf.String()

	assert.Contains(t, out, "run-finished")
	assert.Contains(t, out, "2025-03-14 09:26:53")
	assert.Contains(t, out, "run-open")
	assert.Contains(t, out, "2025-03-14 10:26:53*", "an unfinished run is marked")
}

func TestPrintRecentRuns_Empty(t *testing.T) {
	store, err := history.NewStore(filepath.Join(t.TempDir(), "hydra.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate())

	var buf bytes.Buffer
	require.NoError(t, printRecentRuns(&buf, store, 20))
	assert.Contains(t, buf.String(), "No runs recorded.")
}

func TestPrintRunDetail(t *testing.T) {
	store := newSeededLedger(t)

	var buf bytes.Buffer
	require.NoError(t, printRunDetail(&buf, store, "run-finished"))
	out := buf.String()

	assert.Contains(t, out, "Run run-finished (csv)")
	assert.Contains(t, out, "Finished: 2025-03-14 09:27:53")
	assert.Contains(t, out, "Output:   /out/hydra_output.csv")
	assert.Contains(t, out, "Queries:  2   Findings: 3")
	assert.Contains(t, out, "[java] success    3  /q/a.ql")
	assert.Contains(t, out, "[python] failed")
	assert.Contains(t, out, "compilation error")
}

func TestPrintRunDetail_UnknownRun(t *testing.T) {
	store := newSeededLedger(t)

	var buf bytes.Buffer
	err := printRunDetail(&buf, store, "no-such-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
