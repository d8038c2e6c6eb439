package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jward/hydra/internal/history"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded runs from the history ledger",
	Long:  "Without arguments, lists recent runs recorded in the ledger.\nWith a run id, shows that run's per-query outcomes.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	f := historyCmd.Flags()
	f.StringVar(&flagHistoryDB, "history-db", "", "path to the SQLite run ledger")
	f.IntVar(&flagHistoryLimit, "limit", 20, "maximum runs to list")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if flagHistoryDB == "" {
		return errors.New("--history-db is required")
	}
	ledger, err := history.NewStore(flagHistoryDB)
	if err != nil {
		return fmt.Errorf("opening history db: %w", err)
	}
	defer ledger.Close()
	if err := ledger.Migrate(); err != nil {
		return fmt.Errorf("migrating history db: %w", err)
	}

	if len(args) == 1 {
		return printRunDetail(cmd.OutOrStdout(), ledger, args[0])
	}
	return printRecentRuns(cmd.OutOrStdout(), ledger, flagHistoryLimit)
}

func printRecentRuns(w io.Writer, ledger *history.Store, limit int) error {
	runs, err := ledger.RecentRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-19s  %-6s  %8s  %8s\n",
		"Run", "Started", "Format", "Queries", "Findings")
	for _, run := range runs {
		started := run.StartedAt.Format("2006-01-02 15:04:05")
		if run.FinishedAt == nil {
			// Still open, or the process died before FinishRun.
			started += "*"
		}
		fmt.Fprintf(w, "%-36s  %-19s  %-6s  %8d  %8d\n",
			run.ID, started, run.OutputFormat, run.QueriesRun, run.TotalFindings)
	}
	return nil
}

func printRunDetail(w io.Writer, ledger *history.Store, runID string) error {
	run, err := ledger.RunByID(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.OutputFormat)
	fmt.Fprintf(w, "Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "Finished: %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if run.OutputPath != "" {
		fmt.Fprintf(w, "Output:   %s\n", run.OutputPath)
	}
	fmt.Fprintf(w, "Queries:  %d   Findings: %d\n\n", run.QueriesRun, run.TotalFindings)

	jobs, err := ledger.JobsForRun(runID)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Fprintf(w, "  [%s] %-7s %4d  %s\n", job.Language, job.Status, job.Findings, job.QueryPath)
		if job.ErrorText != "" {
			fmt.Fprintf(w, "          %s\n", job.ErrorText)
		}
	}
	return nil
}
