package hydra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jward/hydra/internal/codeql"
	"github.com/jward/hydra/internal/history"
)

// DefaultThreads is the worker pool size when none is configured.
const DefaultThreads = 6

// DefaultFailureLog is the on-disk failure log path when none is configured.
const DefaultFailureLog = "hydra_failures.log"

// Configuration errors abort the run before any worker is spawned.
var (
	ErrNoQueryDirs = errors.New("no query directories configured")
	ErrNoLanguages = errors.New("no languages requested")
	ErrNoQueries   = errors.New("no runnable queries discovered")
	ErrNoDatabases = errors.New("no usable databases found")
)

// Config carries one run's configuration.
type Config struct {
	DBRoot    string
	Languages []string
	QueryDirs []string

	Format         string // csv, json, or sarif
	Threads        int
	SeverityFilter string
	StrictSeverity bool

	DryRun         bool
	AllowMissingDB bool
	PackInstall    bool
	SuiteOnly      bool
	Verbose        bool

	UnlockCache      bool
	CheckLockProcess bool
	KillLockProcess  bool

	AutoFinalize     bool
	AutoInit         bool
	SourceRoot       string
	ForceScanUnready bool

	OutputDir      string // merged artifact directory; default "."
	FailureLogPath string // default DefaultFailureLog
}

// Orchestrator runs one scan: discovery, database resolution, scheduling,
// aggregation, and the final summary.
type Orchestrator struct {
	cfg    Config
	runner codeql.Runner
	ledger *history.Store
	now    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner substitutes the external engine runner. Tests inject fakes here.
func WithRunner(r codeql.Runner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithLedger enables the run-history ledger.
func WithLedger(s *history.Store) Option {
	return func(o *Orchestrator) { o.ledger = s }
}

// WithClock substitutes the artifact-naming clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator validates cfg and builds an Orchestrator. Unless a runner
// is injected, the codeql binary must be in PATH for live runs; dry runs
// never need it.
func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := ValidateFormat(cfg.Format); err != nil {
		return nil, err
	}
	if len(cfg.QueryDirs) == 0 {
		return nil, ErrNoQueryDirs
	}
	if len(cfg.Languages) == 0 {
		return nil, ErrNoLanguages
	}
	if cfg.Threads < 1 {
		cfg.Threads = DefaultThreads
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.FailureLogPath == "" {
		cfg.FailureLogPath = DefaultFailureLog
	}

	o := &Orchestrator{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	if o.runner == nil && !cfg.DryRun {
		cli, err := codeql.NewCLI(cfg.Verbose)
		if err != nil {
			return nil, err
		}
		o.runner = cli
	}
	return o, nil
}

// Run executes the scan and returns its summary. Configuration errors
// (invalid setup, nothing to scan) return before any job is dispatched;
// individual job failures never do — they are recorded and the run
// completes.
func (o *Orchestrator) Run(ctx context.Context) (*RunSummary, error) {
	cfg := o.cfg
	runID := uuid.New().String()
	startedAt := o.now()

	if cfg.PackInstall && !cfg.DryRun {
		slog.Info("installing query packs")
		if err := o.runner.PackInstall(ctx); err != nil {
			slog.Warn("pack install failed", "error", err)
		}
	}

	registry := NewRegistry(cfg.DBRoot, RegistryOptions{
		AutoFinalize:     cfg.AutoFinalize,
		AutoInit:         cfg.AutoInit,
		SourceRoot:       cfg.SourceRoot,
		UnlockCache:      cfg.UnlockCache,
		CheckLockProcess: cfg.CheckLockProcess,
		KillLockProcess:  cfg.KillLockProcess,
		ForceScanUnready: cfg.ForceScanUnready,
		DryRun:           cfg.DryRun,
	}, o.runner)

	found, unavailable := registry.ResolveAll(ctx, cfg.Languages)
	for _, ue := range unavailable {
		slog.Warn("language skipped", "language", ue.Language, "state", ue.State.String(), "reason", ue.Reason)
	}
	if len(unavailable) > 0 && !cfg.AllowMissingDB {
		langs := make([]string, len(unavailable))
		for i, ue := range unavailable {
			langs[i] = ue.Language
		}
		return nil, fmt.Errorf("%w: databases unavailable for %s (use allow-missing-db to proceed)",
			ErrNoDatabases, strings.Join(langs, ", "))
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: under %s", ErrNoDatabases, cfg.DBRoot)
	}

	resolvedLangs := make([]string, 0, len(found))
	for _, lang := range aliasedLanguageSet(cfg.Languages) {
		if _, ok := found[lang]; ok {
			resolvedLangs = append(resolvedLangs, lang)
		}
	}

	catalog := &QueryCatalog{SuiteOnly: cfg.SuiteOnly}
	queries := catalog.Discover(cfg.QueryDirs, resolvedLangs)
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: searched %s for languages %s",
			ErrNoQueries, strings.Join(cfg.QueryDirs, ", "), strings.Join(resolvedLangs, ", "))
	}

	jobs := BuildJobs(queries, found, cfg.Format)

	if cfg.DryRun {
		return &RunSummary{RunID: runID, DryRun: true, PlannedJobs: jobs}, nil
	}

	flog, err := NewFailureLog(cfg.FailureLogPath)
	if err != nil {
		return nil, err
	}
	defer flog.Close()

	tmpDir, err := os.MkdirTemp("", "hydra-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if o.ledger != nil {
		if err := o.ledger.BeginRun(runID, cfg.Format, startedAt); err != nil {
			slog.Warn("run ledger unavailable", "error", err)
			o.ledger = nil
		}
	}

	summary := &RunSummary{RunID: runID, FailureLogPath: flog.Path()}
	m, err := newMerger(cfg.Format, cfg.SeverityFilter, cfg.StrictSeverity, flog)
	if err != nil {
		return nil, err
	}
	agg := newAggregator(m, summary, flog, o.ledger)

	results := make(chan JobResult, len(jobs))
	go agg.Drain(results)

	scheduler := &JobScheduler{
		Runner:       o.runner,
		Threads:      cfg.Threads,
		OutDir:       tmpDir,
		Severity:     cfg.SeverityFilter,
		Strict:       cfg.StrictSeverity,
		AutoFinalize: cfg.AutoFinalize,
	}
	scheduler.Run(ctx, jobs, results)
	close(results)
	agg.Wait()

	outPath := filepath.Join(cfg.OutputDir,
		fmt.Sprintf("hydra_output-%s.%s", startedAt.Format("20060102150405"), cfg.Format))
	if err := agg.Finalize(outPath); err != nil {
		return nil, err
	}

	if o.ledger != nil {
		if err := o.ledger.FinishRun(runID, outPath, summary.QueriesRun, summary.TotalFindings, o.now()); err != nil {
			slog.Warn("run ledger update failed", "error", err)
		}
	}
	return summary, nil
}
