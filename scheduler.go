package hydra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jward/hydra/internal/codeql"
)

// retryDelay is the pause before re-running a job after a finalize or lock
// repair, giving the engine time to release its handles.
const retryDelay = 250 * time.Millisecond

// BuildJobs joins queries with their language's database. Languages with no
// resolved database contribute zero jobs; the registry already decided
// whether that was fatal. Order follows query discovery order, so dry-run
// enumeration is reproducible.
func BuildJobs(queries []QueryFile, databases map[string]Database, format string) []AnalysisJob {
	var jobs []AnalysisJob
	for _, q := range queries {
		db, ok := databases[q.Language]
		if !ok {
			slog.Warn("skipping query: no database for language",
				"query", q.Path, "language", q.Language)
			continue
		}
		jobs = append(jobs, AnalysisJob{Query: q, Database: db, Format: format})
	}
	return jobs
}

// JobScheduler executes a job set under a bounded worker pool. Each worker
// performs one blocking engine invocation at a time; results stream to the
// aggregation channel as they complete. A failed job is reported, never
// propagated — sibling jobs and the run continue.
type JobScheduler struct {
	Runner       codeql.Runner
	Threads      int
	OutDir       string // per-job result files land here
	Severity     string
	Strict       bool
	AutoFinalize bool
}

type indexedJob struct {
	idx int
	job AnalysisJob
}

// Run dispatches jobs across the worker pool and sends every JobResult to
// results. It returns once all workers have finished; the caller owns
// closing the results channel.
func (s *JobScheduler) Run(ctx context.Context, jobs []AnalysisJob, results chan<- JobResult) {
	if len(jobs) == 0 {
		return
	}

	workers := s.Threads
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	// One in-flight analysis per database. The engine's cache lock tolerates
	// no concurrent access to the same database.
	dbSem := make(map[string]chan struct{})
	for _, job := range jobs {
		if _, ok := dbSem[job.Database.Path]; !ok {
			dbSem[job.Database.Path] = make(chan struct{}, 1)
		}
	}

	workCh := make(chan indexedJob, len(jobs))
	for i, job := range jobs {
		workCh <- indexedJob{idx: i, job: job}
	}
	close(workCh)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workCh {
				results <- s.runJob(ctx, item, dbSem[item.job.Database.Path])
			}
		}()
	}
	wg.Wait()
}

func (s *JobScheduler) runJob(ctx context.Context, item indexedJob, sem chan struct{}) JobResult {
	sem <- struct{}{}
	defer func() { <-sem }()

	job := item.job
	outPath := filepath.Join(s.OutDir, fmt.Sprintf("%s_%s_%03d.%s",
		queryStem(job.Query.Path), job.Query.Language, item.idx, job.Format))

	err := s.Runner.Analyze(ctx, job.Database.Path, job.Query.Path, job.Format, outPath)
	if err != nil {
		if repaired := s.repairAfterError(ctx, job, err); repaired {
			time.Sleep(retryDelay)
			err = s.Runner.Analyze(ctx, job.Database.Path, job.Query.Path, job.Format, outPath)
		}
	}
	if err != nil {
		slog.Debug("query failed", "query", job.Query.Path, "language", job.Query.Language)
		return JobResult{Job: job, Status: JobFailed, ErrorText: engineErrorText(err)}
	}

	count := CountFindings(outPath, job.Format, s.Severity, s.Strict)
	status := JobSuccess
	if count == 0 {
		status = JobEmpty
	}
	return JobResult{Job: job, Status: status, OutputPath: outPath, Findings: count}
}

// repairAfterError inspects a failed invocation's stderr and performs at
// most one in-flight repair: finalize when the engine complains the database
// is unfinalized, or a lock sweep when its cache lock was left behind.
// Returns whether a retry is worthwhile.
func (s *JobScheduler) repairAfterError(ctx context.Context, job AnalysisJob, err error) bool {
	stderr := engineErrorText(err)
	repaired := false

	if s.AutoFinalize && strings.Contains(stderr, "needs to be finalized") {
		slog.Info("finalizing database after analyze error",
			"language", job.Query.Language, "path", job.Database.Path)
		if ferr := s.Runner.Finalize(ctx, job.Database.Path); ferr != nil {
			slog.Warn("finalize retry failed", "language", job.Query.Language, "error", ferr)
		}
		repaired = true
	}

	if strings.Contains(stderr, "cache directory is already locked") ||
		strings.Contains(stderr, "OverlappingFileLockException") {
		slog.Info("clearing cache locks after analyze error",
			"language", job.Query.Language, "path", job.Database.Path)
		for _, lock := range codeql.LockPaths(job.Database.Path) {
			if rerr := codeql.RemoveLock(lock); rerr != nil {
				slog.Warn("lock removal failed", "lock", lock, "error", rerr)
			}
		}
		repaired = true
	}
	return repaired
}

// engineErrorText extracts captured stderr from an engine failure, falling
// back to the error string.
func engineErrorText(err error) string {
	var exitErr *codeql.ExitError
	if errors.As(err, &exitErr) && exitErr.Stderr != "" {
		return exitErr.Stderr
	}
	return err.Error()
}

func queryStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
