// Package hydra orchestrates parallel CodeQL scans: many independent
// (query, per-language database) jobs run against the external codeql CLI
// under a bounded worker pool, and their heterogeneous outputs merge into a
// single CSV, JSON, or SARIF artifact.
//
// # Pipeline
//
// A run moves through five stages:
//
//  1. Discover: [QueryCatalog] walks the query directories and classifies
//     every runnable .ql/.qls file by subject language.
//
//  2. Resolve: [DatabaseRegistry] probes each requested language's database
//     and repairs it where options allow — finalizing, initializing from a
//     source root, or clearing a stale cache lock (killing the owning
//     process if permitted).
//
//  3. Schedule: [JobScheduler] joins queries with databases on language and
//     dispatches the job set across a fixed-size worker pool, with one
//     in-flight analysis per database.
//
//  4. Aggregate: a single [Aggregator] goroutine owns all merge state and
//     run counters; workers hand it JobResults over a channel. Per-format
//     merge strategies combine job outputs into one artifact whose content
//     does not depend on completion order.
//
//  5. Summarize: the [RunSummary] reports counts and the failure log, which
//     records every failed job and every strict-severity rejection.
//
// # Usage
//
// Build a [Config], create an [Orchestrator], and run it:
//
//	orch, err := hydra.NewOrchestrator(hydra.Config{
//		DBRoot:    "cqlDB",
//		Languages: []string{"java", "javascript"},
//		QueryDirs: []string{"queries"},
//		Format:    "csv",
//	})
//	if err != nil { ... }
//
//	summary, err := orch.Run(ctx)
//
// A job's failure is always local: the engine's stderr is captured, the
// failure is logged and counted, and the run completes with a summary.
// Only configuration errors (invalid format, nothing to scan, no usable
// database) abort before any job is dispatched.
//
// The codeql binary itself is an opaque collaborator. Hydra consumes its
// database directory markers and cache locks as an external contract and
// never reimplements query evaluation; see the internal/codeql package.
package hydra
