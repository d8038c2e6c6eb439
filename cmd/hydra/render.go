package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jward/hydra"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	warnStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	barStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	emptyBarStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// printPlan enumerates the dry-run job set, one line per job, in the
// deterministic order the scheduler would dispatch them.
func printPlan(w io.Writer, s *hydra.RunSummary) {
	fmt.Fprintf(w, "Dry run: %d job(s) planned\n", len(s.PlannedJobs))
	for _, job := range s.PlannedJobs {
		fmt.Fprintf(w, "  [%s] %s %s -> %s\n",
			job.Query.Language, job.Query.Kind, job.Query.Path, job.Database.Path)
	}
}

// renderSummary prints the run summary. Fancy mode adds color and a results
// chart; plain mode stays grep-friendly.
func renderSummary(w io.Writer, s *hydra.RunSummary, fancy bool) {
	if fancy {
		fmt.Fprintln(w, titleStyle.Render("Summary"))
	} else {
		fmt.Fprintln(w, "Summary")
	}
	fmt.Fprintln(w, strings.Repeat("-", 31))
	fmt.Fprintf(w, "Total queries run:       %d\n", s.QueriesRun)
	fmt.Fprintf(w, "Total findings:          %d\n", s.TotalFindings)

	renderChart(w, s.QueriesWithResults, s.QueriesWithoutResults, fancy)

	if len(s.Failures) > 0 {
		line := fmt.Sprintf("%d failure(s) recorded in %s", len(s.Failures), s.FailureLogPath)
		if fancy {
			line = warnStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}

	done := fmt.Sprintf("Results saved to %s", s.OutputPath)
	if fancy {
		if s.TotalFindings > 0 {
			done = okStyle.Render(done)
		} else {
			done = warnStyle.Render(fmt.Sprintf("No results. Wrote header to %s", s.OutputPath))
		}
	}
	fmt.Fprintln(w, done)
}

// renderChart draws the with/without-results bars.
func renderChart(w io.Writer, withResults, withoutResults int, fancy bool) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-30s Bar\n", "Category")

	with := strings.Repeat("#", withResults)
	without := strings.Repeat("#", withoutResults)
	if fancy {
		with = barStyle.Render(with)
		without = emptyBarStyle.Render(without)
	}
	fmt.Fprintf(w, "%-30s %s\n", "Queries with results", with)
	fmt.Fprintf(w, "%-30s %s\n", "Queries without results", without)
	fmt.Fprintln(w)
}
