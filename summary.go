package hydra

import (
	"fmt"
	"os"
)

// FailureEntry is one recorded failure: a job the engine rejected, or a
// finding row rejected by strict severity validation.
type FailureEntry struct {
	Job    string // job identity: "<query> on <language>" or "<query> row N"
	Detail string // captured error text
}

// RunSummary accumulates counts across all jobs. It is mutated exclusively
// by the aggregation goroutine while results stream in and is read-only once
// Run returns.
type RunSummary struct {
	RunID                 string
	QueriesRun            int
	QueriesWithResults    int
	QueriesWithoutResults int
	TotalFindings         int

	OutputPath     string
	FailureLogPath string
	Failures       []FailureEntry

	// PlannedJobs holds the enumerated job set in dry-run mode, in which
	// case all counters above stay zero.
	DryRun      bool
	PlannedJobs []AnalysisJob
}

// FailureLog is the append-only on-disk failure log, truncated at run start.
// All writes happen on the aggregation goroutine; no locking is needed.
type FailureLog struct {
	path    string
	f       *os.File
	entries []FailureEntry
}

// NewFailureLog truncates (or creates) the log at path.
func NewFailureLog(path string) (*FailureLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	return &FailureLog{path: path, f: f}, nil
}

// Record appends one failure entry.
func (l *FailureLog) Record(job, detail string) {
	l.entries = append(l.entries, FailureEntry{Job: job, Detail: detail})
	fmt.Fprintf(l.f, "FAIL %s:\n%s\n", job, detail)
}

// Entries returns the recorded failures in order.
func (l *FailureLog) Entries() []FailureEntry {
	return l.entries
}

// Path returns the on-disk location of the log.
func (l *FailureLog) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *FailureLog) Close() error {
	return l.f.Close()
}
