package hydra

import (
	"fmt"
	"strings"
)

// KnownLanguages is the closed set of analysis subject languages hydra can
// classify. Requested languages outside this set are still accepted (the
// engine may support more extractors than we enumerate), but header-based
// inference only recognizes these.
var KnownLanguages = []string{
	"java", "javascript", "typescript", "python", "cpp", "swift", "ruby", "kotlin", "go", "csharp",
}

// langAliases maps languages whose queries run against another language's
// database. The engine ships no standalone extractor for these.
var langAliases = map[string]string{
	"typescript": "javascript",
	"kotlin":     "java",
}

// AliasLanguage lowercases a language token and resolves it to the database
// language it runs against.
func AliasLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if target, ok := langAliases[lang]; ok {
		return target
	}
	return lang
}

// QueryKind distinguishes a single query file from a query suite.
type QueryKind int

const (
	QueryUnit QueryKind = iota
	QuerySuite
)

func (k QueryKind) String() string {
	if k == QuerySuite {
		return "suite"
	}
	return "query"
}

// QueryFile is one discovered, classified query. Immutable once discovered.
type QueryFile struct {
	Path     string // absolute path
	Language string // aliased database language
	Kind     QueryKind
}

// DBState describes a per-language database at probe time.
type DBState int

const (
	DBMissing DBState = iota
	DBNotFinalized
	DBLocked
	DBFinalized
)

func (s DBState) String() string {
	switch s {
	case DBMissing:
		return "missing"
	case DBNotFinalized:
		return "not finalized"
	case DBLocked:
		return "locked"
	case DBFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("DBState(%d)", int(s))
	}
}

// Database is the resolved per-language database. Exactly one exists per
// requested language; State is probed at run start and may be repaired
// (finalize, unlock, kill-then-unlock, init) before scheduling.
type Database struct {
	Language string
	Path     string
	State    DBState
	LockPID  int // owning process from the lock marker; 0 when unknown
}

// AnalysisJob pairs one query with its language's database. Jobs are built
// only against finalized databases and consumed once.
type AnalysisJob struct {
	Query    QueryFile
	Database Database
	Format   string
}

// JobStatus classifies one job's outcome.
type JobStatus int

const (
	JobSuccess JobStatus = iota
	JobEmpty
	JobFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobSuccess:
		return "success"
	case JobEmpty:
		return "empty"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobStatus(%d)", int(s))
	}
}

// JobResult is the outcome of one analysis job.
type JobResult struct {
	Job        AnalysisJob
	Status     JobStatus
	OutputPath string // per-job result file; empty when the job failed
	Findings   int    // finding count after severity filtering
	ErrorText  string // captured engine stderr for failed jobs
}

// --- Severity ---

// severityVocabulary is the recognized severity vocabulary for strict mode:
// the engine's native levels plus the common mapped tiers.
var severityVocabulary = map[string]bool{
	"error":          true,
	"warning":        true,
	"note":           true,
	"recommendation": true,
	"critical":       true,
	"high":           true,
	"medium":         true,
	"low":            true,
}

// KnownSeverity reports whether a severity label is inside the recognized
// vocabulary (case-insensitive).
func KnownSeverity(sev string) bool {
	return severityVocabulary[strings.ToLower(strings.TrimSpace(sev))]
}

// mapLooseSeverity maps the engine's native levels onto the tier vocabulary
// users typically filter on.
func mapLooseSeverity(sev string) string {
	switch strings.ToLower(strings.TrimSpace(sev)) {
	case "error":
		return "CRITICAL"
	case "warning":
		return "HIGH"
	case "note":
		return "MEDIUM"
	default:
		return strings.ToUpper(strings.TrimSpace(sev))
	}
}

// SeverityMatches reports whether a finding's severity label matches the
// configured filter: the candidate is mapped onto the tier vocabulary and
// compared, with a substring match as fallback.
func SeverityMatches(candidate, target string) bool {
	if candidate == "" {
		return false
	}
	cand := strings.ToUpper(strings.TrimSpace(candidate))
	targ := strings.ToUpper(strings.TrimSpace(target))
	return mapLooseSeverity(cand) == targ || strings.Contains(cand, targ)
}
