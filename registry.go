package hydra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jward/hydra/internal/codeql"
)

// RegistryOptions controls database resolution and repair.
type RegistryOptions struct {
	AutoFinalize     bool   // finalize unfinalized databases
	AutoInit         bool   // create missing databases from SourceRoot
	SourceRoot       string // required by AutoInit
	UnlockCache      bool   // delete stale cache locks
	CheckLockProcess bool   // probe liveness of the lock-owning process
	KillLockProcess  bool   // terminate a live lock owner before unlocking
	ForceScanUnready bool   // scan databases that look empty
	DryRun           bool   // probe only; perform no repair side effects
}

// UnavailableError reports why a language contributes no database this run.
type UnavailableError struct {
	Language string
	State    DBState
	Reason   string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("database for %s unavailable (%s): %s", e.Language, e.State, e.Reason)
}

// DatabaseRegistry resolves, validates, and repairs per-language databases
// under a common root. Databases live at <root>/<language>.
//
// Resolution is memoized: each language is probed and repaired at most once
// per run, and concurrent Resolve calls for the same language serialize on a
// per-language lock so no two callers race to unlock or kill twice.
// Different languages resolve independently.
type DatabaseRegistry struct {
	root   string
	opts   RegistryOptions
	runner codeql.Runner

	// Liveness and termination are injectable for tests.
	alive func(pid int) bool
	kill  func(pid int) error

	mu       sync.Mutex
	perLang  map[string]*sync.Mutex
	resolved map[string]resolution
}

type resolution struct {
	db  Database
	err error
}

// NewRegistry creates a registry rooted at root.
func NewRegistry(root string, opts RegistryOptions, runner codeql.Runner) *DatabaseRegistry {
	return &DatabaseRegistry{
		root:     root,
		opts:     opts,
		runner:   runner,
		alive:    codeql.ProcessAlive,
		kill:     codeql.KillProcess,
		perLang:  make(map[string]*sync.Mutex),
		resolved: make(map[string]resolution),
	}
}

// Resolve returns the finalized database for language, repairing it first if
// options permit. The returned error is an *UnavailableError when the
// language cannot contribute jobs this run.
func (r *DatabaseRegistry) Resolve(ctx context.Context, language string) (Database, error) {
	language = AliasLanguage(language)

	lock := r.langLock(language)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	cached, ok := r.resolved[language]
	r.mu.Unlock()
	if ok {
		return cached.db, cached.err
	}

	db, err := r.resolve(ctx, language)

	r.mu.Lock()
	r.resolved[language] = resolution{db: db, err: err}
	r.mu.Unlock()
	return db, err
}

// ResolveAll resolves every requested language concurrently and returns the
// usable databases keyed by language plus the per-language failures, sorted
// by language for stable reporting.
func (r *DatabaseRegistry) ResolveAll(ctx context.Context, languages []string) (map[string]Database, []*UnavailableError) {
	langs := aliasedLanguageSet(languages)

	var (
		mu          sync.Mutex
		wg          sync.WaitGroup
		found       = make(map[string]Database, len(langs))
		unavailable []*UnavailableError
	)

	for _, lang := range langs {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			db, err := r.Resolve(ctx, lang)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var ue *UnavailableError
				if !errors.As(err, &ue) {
					ue = &UnavailableError{Language: lang, State: db.State, Reason: err.Error()}
				}
				unavailable = append(unavailable, ue)
				return
			}
			found[lang] = db
		}(lang)
	}
	wg.Wait()

	sort.Slice(unavailable, func(i, j int) bool {
		return unavailable[i].Language < unavailable[j].Language
	})
	return found, unavailable
}

func (r *DatabaseRegistry) langLock(language string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.perLang[language]
	if !ok {
		lock = &sync.Mutex{}
		r.perLang[language] = lock
	}
	return lock
}

// probe inspects the on-disk markers and classifies the database state.
func (r *DatabaseRegistry) probe(language string) Database {
	dir := filepath.Join(r.root, language)
	db := Database{Language: language, Path: dir}

	if !codeql.HasMetadata(dir) {
		db.State = DBMissing
		return db
	}
	if locks := codeql.LockPaths(dir); len(locks) > 0 {
		db.State = DBLocked
		if pid, ok := codeql.ReadLockPID(locks[0]); ok {
			db.LockPID = pid
		}
		return db
	}
	if !codeql.StructureOK(dir) {
		db.State = DBNotFinalized
		return db
	}
	db.State = DBFinalized
	return db
}

// resolve walks the state machine for one language: Missing may be
// initialized, Locked may be unlocked (killing the owner if allowed),
// NotFinalized may be finalized. Each repair is attempted once, then the
// state is re-probed.
func (r *DatabaseRegistry) resolve(ctx context.Context, language string) (Database, error) {
	db := r.probe(language)

	if db.State == DBMissing {
		if !r.opts.AutoInit || r.opts.SourceRoot == "" {
			return db, &UnavailableError{Language: language, State: DBMissing,
				Reason: fmt.Sprintf("expected database at %s", db.Path)}
		}
		if r.opts.DryRun {
			return db, &UnavailableError{Language: language, State: DBMissing,
				Reason: "init skipped in dry-run"}
		}
		slog.Info("creating database", "language", language, "path", db.Path, "source", r.opts.SourceRoot)
		if err := r.runner.Create(ctx, db.Path, language, r.opts.SourceRoot); err != nil {
			return db, &UnavailableError{Language: language, State: DBMissing,
				Reason: fmt.Sprintf("init failed: %v", err)}
		}
		db = r.probe(language)
	}

	if db.State == DBLocked {
		if err := r.repairLock(db); err != nil {
			return db, &UnavailableError{Language: language, State: DBLocked, Reason: err.Error()}
		}
		db = r.probe(language)
	}

	if db.State == DBNotFinalized {
		if !r.opts.AutoFinalize {
			return db, &UnavailableError{Language: language, State: DBNotFinalized,
				Reason: "database needs finalizing (enable auto-finalize)"}
		}
		if r.opts.DryRun {
			return db, &UnavailableError{Language: language, State: DBNotFinalized,
				Reason: "finalize skipped in dry-run"}
		}
		slog.Info("finalizing database", "language", language, "path", db.Path)
		if err := r.runner.Finalize(ctx, db.Path); err != nil {
			return db, &UnavailableError{Language: language, State: DBNotFinalized,
				Reason: fmt.Sprintf("finalize failed: %v", err)}
		}
		db = r.probe(language)
	}

	if db.State != DBFinalized {
		return db, &UnavailableError{Language: language, State: db.State,
			Reason: "repair did not produce a finalized database"}
	}

	if !r.opts.ForceScanUnready && codeql.IsEmpty(db.Path) {
		return db, &UnavailableError{Language: language, State: db.State,
			Reason: "database appears empty (use force-scan-unready to override)"}
	}
	return db, nil
}

// repairLock removes the cache lock, terminating a live owning process first
// when permitted. Failure here downgrades the language to unavailable; it
// never aborts the run.
func (r *DatabaseRegistry) repairLock(db Database) error {
	if r.opts.DryRun {
		return fmt.Errorf("lock repair skipped in dry-run")
	}

	if r.opts.CheckLockProcess && db.LockPID > 0 && r.alive(db.LockPID) {
		if !r.opts.KillLockProcess {
			return fmt.Errorf("lock owner pid %d is running (enable kill-lock-process to terminate)", db.LockPID)
		}
		slog.Warn("terminating lock owner", "language", db.Language, "pid", db.LockPID)
		if err := r.kill(db.LockPID); err != nil {
			return fmt.Errorf("kill lock owner pid %d: %w", db.LockPID, err)
		}
	} else if !r.opts.UnlockCache {
		return fmt.Errorf("cache lock present (enable unlock-cache to remove)")
	}

	for _, lock := range codeql.LockPaths(db.Path) {
		slog.Warn("removing cache lock", "language", db.Language, "lock", lock)
		if err := codeql.RemoveLock(lock); err != nil {
			return fmt.Errorf("remove lock %s: %w", lock, err)
		}
	}
	return nil
}
