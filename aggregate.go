package hydra

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jward/hydra/internal/history"
)

// csvHeader is the fixed merged-artifact schema. It is written exactly once,
// even when zero rows survive filtering.
var csvHeader = []string{
	"Name", "Description", "Severity", "Message", "Path",
	"Start line", "Start column", "End line", "End column",
}

// ValidFormats lists accepted output formats.
var ValidFormats = []string{"csv", "json", "sarif"}

// ValidateFormat checks that an output format is recognized.
func ValidateFormat(format string) error {
	for _, f := range ValidFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid output format %q: must be csv, json, or sarif", format)
}

// merger accumulates per-job outputs for one format. Implementations keep
// contributions keyed by job identity so the finalized artifact is
// byte-stable regardless of job completion order. Adding a format means
// adding one merger.
type merger interface {
	mergeInto(res JobResult) error
	finalize(outPath string) (total int, err error)
}

func newMerger(format, severityFilter string, strict bool, flog *FailureLog) (merger, error) {
	switch format {
	case "csv":
		return &csvMerger{filter: severityFilter, strict: strict, flog: flog,
			rows: make(map[string][][]string)}, nil
	case "json":
		return &jsonMerger{filter: severityFilter,
			items: make(map[string][]any)}, nil
	case "sarif":
		return &sarifMerger{filter: severityFilter,
			runs: make(map[string][]map[string]any)}, nil
	default:
		return nil, ValidateFormat(format)
	}
}

// jobKey identifies a job for merge ordering and failure-log entries.
func jobKey(job AnalysisJob) string {
	return fmt.Sprintf("%s on %s", job.Query.Path, job.Query.Language)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- CSV ---

type csvMerger struct {
	filter string
	strict bool
	flog   *FailureLog
	rows   map[string][][]string // job key -> data rows (per-job header dropped)
}

func (m *csvMerger) mergeInto(res JobResult) error {
	if res.OutputPath == "" {
		return nil
	}
	f, err := os.Open(res.OutputPath)
	if err != nil {
		// The engine exited zero without producing a file: nothing to merge.
		return nil
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	key := jobKey(res.Job)
	headerSeen := false
	rowNum := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", res.OutputPath, err)
		}
		rowNum++
		if !headerSeen {
			headerSeen = true
			continue
		}
		if len(row) > 2 {
			if m.filter != "" && !SeverityMatches(row[2], m.filter) {
				continue
			}
			if m.strict && !KnownSeverity(row[2]) {
				m.flog.Record(fmt.Sprintf("%s row %d", key, rowNum),
					fmt.Sprintf("severity %q outside recognized vocabulary", row[2]))
				continue
			}
		}
		m.rows[key] = append(m.rows[key], row)
	}
	return nil
}

func (m *csvMerger) finalize(outPath string) (int, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	total := 0
	for _, key := range sortedKeys(m.rows) {
		for _, row := range m.rows[key] {
			if err := w.Write(row); err != nil {
				return 0, fmt.Errorf("write row: %w", err)
			}
			total++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush %s: %w", outPath, err)
	}
	return total, nil
}

// --- JSON ---

type jsonMerger struct {
	filter string
	items  map[string][]any // job key -> filtered result objects
}

func (m *jsonMerger) mergeInto(res JobResult) error {
	if res.OutputPath == "" {
		return nil
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		return nil
	}

	key := jobKey(res.Job)
	for _, item := range jsonResultItems(data) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if m.filter != "" && !SeverityMatches(jsonItemSeverity(obj), m.filter) {
			continue
		}
		m.items[key] = append(m.items[key], obj)
	}
	return nil
}

func (m *jsonMerger) finalize(outPath string) (int, error) {
	merged := []any{}
	for _, key := range sortedKeys(m.items) {
		merged = append(merged, m.items[key]...)
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal merged json: %w", err)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", outPath, err)
	}
	return len(merged), nil
}

// jsonResultItems extracts the result list from a per-job json document,
// which the engine emits either as a bare array or under a "results" key.
func jsonResultItems(data []byte) []any {
	var asList []any
	if err := json.Unmarshal(data, &asList); err == nil {
		return asList
	}
	var asObj map[string]any
	if err := json.Unmarshal(data, &asObj); err == nil {
		if items, ok := asObj["results"].([]any); ok {
			return items
		}
	}
	return nil
}

// jsonItemSeverity pulls the first severity-ish field off a result object.
func jsonItemSeverity(obj map[string]any) string {
	if s, ok := obj["severity"].(string); ok && s != "" {
		return s
	}
	if s, ok := obj["level"].(string); ok && s != "" {
		return s
	}
	if props, ok := obj["properties"].(map[string]any); ok {
		if s, ok := props["severity"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// --- SARIF ---

const sarifSchema = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0.json"

type sarifMerger struct {
	filter string
	runs   map[string][]map[string]any // job key -> filtered runs
}

func (m *sarifMerger) mergeInto(res JobResult) error {
	if res.OutputPath == "" {
		return nil
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", res.OutputPath, err)
	}

	key := jobKey(res.Job)
	runs, _ := doc["runs"].([]any)
	for _, raw := range runs {
		run, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rules := sarifRuleSeverities(run)
		if results, ok := run["results"].([]any); ok {
			filtered := make([]any, 0, len(results))
			for _, r := range results {
				resObj, ok := r.(map[string]any)
				if !ok {
					continue
				}
				if m.filter != "" && !sarifResultMatches(resObj, rules, m.filter) {
					continue
				}
				filtered = append(filtered, resObj)
			}
			run["results"] = filtered
		}
		m.runs[key] = append(m.runs[key], run)
	}
	return nil
}

func (m *sarifMerger) finalize(outPath string) (int, error) {
	allRuns := []any{}
	total := 0
	for _, key := range sortedKeys(m.runs) {
		for _, run := range m.runs[key] {
			if results, ok := run["results"].([]any); ok {
				total += len(results)
			}
			allRuns = append(allRuns, run)
		}
	}
	merged := map[string]any{
		"$schema": sarifSchema,
		"version": "2.1.0",
		"runs":    allRuns,
	}
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal merged sarif: %w", err)
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", outPath, err)
	}
	return total, nil
}

// sarifRuleSeverities maps rule IDs to their declared severity so results
// that omit a level can still be filtered.
func sarifRuleSeverities(run map[string]any) map[string]string {
	mapping := make(map[string]string)
	tool, _ := run["tool"].(map[string]any)
	driver, _ := tool["driver"].(map[string]any)
	rules, _ := driver["rules"].([]any)
	for _, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := rule["id"].(string)
		if id == "" {
			id, _ = rule["name"].(string)
		}
		if id == "" {
			continue
		}
		props, _ := rule["properties"].(map[string]any)
		sev, _ := props["severity"].(string)
		if sev == "" {
			sev, _ = props["problem.severity"].(string)
		}
		if sev == "" {
			if dc, ok := rule["defaultConfiguration"].(map[string]any); ok {
				sev, _ = dc["level"].(string)
			}
		}
		mapping[id] = sev
	}
	return mapping
}

// sarifResultMatches checks every severity source a sarif result carries
// against the filter: its own fields, then its rule's declared severity.
func sarifResultMatches(res map[string]any, rules map[string]string, filter string) bool {
	props, _ := res["properties"].(map[string]any)
	candidates := []string{}
	if s, ok := res["severity"].(string); ok {
		candidates = append(candidates, s)
	}
	if s, ok := res["level"].(string); ok {
		candidates = append(candidates, s)
	}
	if props != nil {
		if s, ok := props["severity"].(string); ok {
			candidates = append(candidates, s)
		}
		if s, ok := props["problem.severity"].(string); ok {
			candidates = append(candidates, s)
		}
	}
	if id, ok := res["ruleId"].(string); ok {
		if sev, ok := rules[id]; ok {
			candidates = append(candidates, sev)
		}
	}
	for _, c := range candidates {
		if c != "" && SeverityMatches(c, filter) {
			return true
		}
	}
	return false
}

// --- Finding counts (per job) ---

// CountFindings counts the findings in one per-job result file, applying the
// severity filter (and, for csv, strict vocabulary validation) so the count
// matches what the merge will accept.
func CountFindings(path, format, severityFilter string, strict bool) int {
	switch format {
	case "csv":
		return countCSV(path, severityFilter, strict)
	case "json":
		return countJSON(path, severityFilter)
	case "sarif":
		return countSARIF(path, severityFilter)
	default:
		return 0
	}
}

func countCSV(path, filter string, strict bool) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	count := 0
	headerSeen := false
	for {
		row, err := r.Read()
		if err != nil {
			break
		}
		if !headerSeen {
			headerSeen = true
			continue
		}
		if len(row) > 2 {
			if filter != "" && !SeverityMatches(row[2], filter) {
				continue
			}
			if strict && !KnownSeverity(row[2]) {
				continue
			}
		}
		count++
	}
	return count
}

func countJSON(path, filter string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	count := 0
	for _, item := range jsonResultItems(data) {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if filter != "" && !SeverityMatches(jsonItemSeverity(obj), filter) {
			continue
		}
		count++
	}
	return count
}

func countSARIF(path, filter string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}
	count := 0
	runs, _ := doc["runs"].([]any)
	for _, raw := range runs {
		run, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rules := sarifRuleSeverities(run)
		results, _ := run["results"].([]any)
		for _, r := range results {
			resObj, ok := r.(map[string]any)
			if !ok {
				continue
			}
			if filter != "" && !sarifResultMatches(resObj, rules, filter) {
				continue
			}
			count++
		}
	}
	return count
}

// --- Aggregation authority ---

// Aggregator is the single owner of merge state and run counters. Workers
// never touch shared state; they hand JobResults over a channel and the
// aggregator goroutine applies them one at a time.
type Aggregator struct {
	merger  merger
	summary *RunSummary
	flog    *FailureLog
	ledger  *history.Store // optional run ledger
	done    chan struct{}
}

func newAggregator(m merger, summary *RunSummary, flog *FailureLog, ledger *history.Store) *Aggregator {
	return &Aggregator{merger: m, summary: summary, flog: flog, ledger: ledger,
		done: make(chan struct{})}
}

// Drain consumes results until the channel closes, updating counters, the
// failure log, the merge state, and the run ledger. Run it on its own
// goroutine; Wait blocks until it finishes.
func (a *Aggregator) Drain(results <-chan JobResult) {
	defer close(a.done)
	for res := range results {
		a.accept(res)
	}
}

// Wait blocks until Drain has consumed every result.
func (a *Aggregator) Wait() {
	<-a.done
}

func (a *Aggregator) accept(res JobResult) {
	a.summary.QueriesRun++

	switch res.Status {
	case JobFailed:
		a.summary.QueriesWithoutResults++
		a.flog.Record(jobKey(res.Job), res.ErrorText)
	case JobEmpty:
		a.summary.QueriesWithoutResults++
		if err := a.merger.mergeInto(res); err != nil {
			a.flog.Record(jobKey(res.Job), fmt.Sprintf("merge: %v", err))
		}
	case JobSuccess:
		a.summary.QueriesWithResults++
		if err := a.merger.mergeInto(res); err != nil {
			a.flog.Record(jobKey(res.Job), fmt.Sprintf("merge: %v", err))
		}
	}

	if a.ledger != nil {
		_, err := a.ledger.RecordJob(&history.JobRecord{
			RunID:     a.summary.RunID,
			QueryPath: res.Job.Query.Path,
			Language:  res.Job.Query.Language,
			Status:    res.Status.String(),
			Findings:  res.Findings,
			ErrorText: res.ErrorText,
		})
		if err != nil {
			a.flog.Record(jobKey(res.Job), fmt.Sprintf("ledger: %v", err))
		}
	}
}

// Finalize writes the merged artifact and records the total finding count.
func (a *Aggregator) Finalize(outPath string) error {
	total, err := a.merger.finalize(outPath)
	if err != nil {
		return err
	}
	a.summary.TotalFindings = total
	a.summary.OutputPath = outPath
	a.summary.Failures = a.flog.Entries()
	return nil
}
