package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/hydra"
	"github.com/jward/hydra/internal/history"
)

var (
	flagDBRoot    string
	flagLangs     string
	flagQueryDirs []string
	flagFormat    string
	flagThreads   int

	flagSeverity string
	flagStrict   bool

	flagDryRun         bool
	flagAllowMissingDB bool
	flagPackInstall    bool
	flagVerbose        bool
	flagSuiteOnly      bool
	flagFancy          bool

	flagUnlockCache  bool
	flagCheckLockPID bool
	flagKillLockPID  bool

	flagAutoFinalize bool
	flagAutoInit     bool
	flagSourceRoot   string
	flagForceUnready bool

	flagHistoryDB string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "hydra",
	Short:         "Parallel CodeQL scanning engine",
	Long:          "Hydra runs many CodeQL queries against per-language databases in parallel,\nrepairs stale database locks, and merges all results into one CSV, JSON, or\nSARIF artifact.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return hydra.ValidateFormat(flagFormat)
	},
	RunE: runScan,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagDBRoot, "db-root", "cqlDB", "root of CodeQL databases (expects <db-root>/<lang>)")
	f.StringVar(&flagLangs, "langs", "java,javascript,typescript,python", "comma-separated languages")
	f.StringArrayVar(&flagQueryDirs, "query-dir", nil, "query dir(s); repeat or comma-separate")
	f.StringVar(&flagFormat, "output-format", "csv", "output format: csv, json, or sarif")
	f.IntVar(&flagThreads, "threads", hydra.DefaultThreads, "parallel jobs")

	f.StringVar(&flagSeverity, "severity", "", "filter results by severity (e.g. HIGH, CRITICAL)")
	f.BoolVar(&flagStrict, "strict-severity", false, "reject findings whose severity is outside the recognized vocabulary")

	f.BoolVar(&flagDryRun, "dry-run", false, "list planned jobs without running the engine")
	f.BoolVar(&flagAllowMissingDB, "allow-missing-db", false, "proceed when some requested databases are missing or unfinalized")
	f.BoolVar(&flagPackInstall, "pack-install", false, "run `codeql pack install` before scanning")
	f.BoolVar(&flagVerbose, "verbose", false, "verbose logging of engine invocations")
	f.BoolVar(&flagSuiteOnly, "suite-only", false, "run only query suites (.qls)")
	f.BoolVar(&flagFancy, "fancy", false, "styled output and results chart")

	f.BoolVar(&flagUnlockCache, "unlock-cache", false, "delete stale cache lock files under each database")
	f.BoolVar(&flagCheckLockPID, "check-lock-process", false, "probe liveness of the process a cache lock names")
	f.BoolVar(&flagKillLockPID, "kill-lock-process", false, "terminate the process a cache lock names (use with caution)")

	f.BoolVar(&flagAutoFinalize, "auto-finalize-db", false, "finalize unfinalized databases automatically")
	f.BoolVar(&flagAutoInit, "auto-init-db", false, "create missing databases (requires --source-root)")
	f.StringVar(&flagSourceRoot, "source-root", "", "source root used when creating missing databases")
	f.BoolVar(&flagForceUnready, "force-scan-unready", false, "scan even if a database looks empty")

	f.StringVar(&flagHistoryDB, "history-db", "", "record runs and job outcomes in a SQLite ledger at this path")
}

func runScan(cmd *cobra.Command, args []string) error {
	if flagVerbose {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	if flagAutoInit && flagSourceRoot == "" {
		return errors.New("--auto-init-db requires --source-root")
	}

	cfg := hydra.Config{
		DBRoot:    flagDBRoot,
		Languages: splitList(flagLangs),
		QueryDirs: normalizeQueryDirs(flagQueryDirs),

		Format:         flagFormat,
		Threads:        flagThreads,
		SeverityFilter: flagSeverity,
		StrictSeverity: flagStrict,

		DryRun:         flagDryRun,
		AllowMissingDB: flagAllowMissingDB,
		PackInstall:    flagPackInstall,
		SuiteOnly:      flagSuiteOnly,
		Verbose:        flagVerbose,

		UnlockCache:      flagUnlockCache,
		CheckLockProcess: flagCheckLockPID,
		KillLockProcess:  flagKillLockPID,

		AutoFinalize:     flagAutoFinalize,
		AutoInit:         flagAutoInit,
		SourceRoot:       flagSourceRoot,
		ForceScanUnready: flagForceUnready,
	}

	var opts []hydra.Option
	if flagHistoryDB != "" {
		ledger, err := history.NewStore(flagHistoryDB)
		if err != nil {
			return fmt.Errorf("opening history db: %w", err)
		}
		defer ledger.Close()
		if err := ledger.Migrate(); err != nil {
			return fmt.Errorf("migrating history db: %w", err)
		}
		opts = append(opts, hydra.WithLedger(ledger))
	}

	orch, err := hydra.NewOrchestrator(cfg, opts...)
	if err != nil {
		return err
	}

	summary, err := orch.Run(cmd.Context())
	if err != nil {
		return err
	}

	if summary.DryRun {
		printPlan(os.Stdout, summary)
		return nil
	}
	renderSummary(os.Stdout, summary, flagFancy)
	return nil
}

// splitList splits a comma-separated flag value, trimming whitespace and
// dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// normalizeQueryDirs flattens repeated and comma-separated --query-dir
// values, expanding a leading ~. Defaults to ~/Git/codeql when none given.
func normalizeQueryDirs(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, tok := range strings.Split(entry, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			out = append(out, expandHome(tok))
		}
	}
	if len(out) == 0 {
		home, err := os.UserHomeDir()
		if err == nil {
			out = append(out, filepath.Join(home, "Git", "codeql"))
		}
	}
	return out
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
