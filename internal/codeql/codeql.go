// Package codeql wraps the external CodeQL CLI. The engine is treated as an
// opaque black box: hydra hands it a database path, a query path, and an
// output format, and consumes whatever result file it produces. Nothing in
// this package evaluates queries or interprets database internals beyond the
// on-disk markers documented in db.go.
package codeql

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

const binaryName = "codeql"

var (
	// ErrEngineNotFound indicates the codeql binary is not in PATH.
	ErrEngineNotFound = errors.New("codeql binary not found in PATH")
)

// ExitError is returned when an engine invocation exits nonzero. Stderr is
// captured so callers can inspect the failure (finalize/lock diagnostics are
// only visible there).
type ExitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("codeql %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner is the external engine contract. The production implementation is
// CLI; tests substitute a fake so no codeql binary is required.
type Runner interface {
	// Analyze runs one query (or suite) against a finalized database and
	// writes results in the given format to outPath.
	Analyze(ctx context.Context, dbPath, queryPath, format, outPath string) error

	// Finalize closes a database for writes. Finalizing an already-finalized
	// database is not an error.
	Finalize(ctx context.Context, dbPath string) error

	// Create materializes a new database for language from sourceRoot.
	Create(ctx context.Context, dbPath, language, sourceRoot string) error

	// PackInstall downloads query pack dependencies.
	PackInstall(ctx context.Context) error
}

// CLI invokes the codeql binary found in PATH.
type CLI struct {
	bin     string
	verbose bool
}

// NewCLI locates the codeql binary. Returns ErrEngineNotFound if it is not
// installed.
func NewCLI(verbose bool) (*CLI, error) {
	path, err := exec.LookPath(binaryName)
	if err != nil {
		return nil, ErrEngineNotFound
	}
	return &CLI{bin: path, verbose: verbose}, nil
}

func (c *CLI) run(ctx context.Context, args ...string) error {
	if c.verbose {
		slog.Debug("codeql invocation", "args", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &ExitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}

func (c *CLI) Analyze(ctx context.Context, dbPath, queryPath, format, outPath string) error {
	return c.run(ctx, "database", "analyze", dbPath,
		"--format", format, "--output", outPath, queryPath)
}

func (c *CLI) Finalize(ctx context.Context, dbPath string) error {
	err := c.run(ctx, "database", "finalize", dbPath)
	if err == nil {
		return nil
	}
	// The engine refuses to finalize twice; that is success for our purposes.
	var exitErr *ExitError
	if errors.As(err, &exitErr) && strings.Contains(exitErr.Stderr, "already finalized") {
		return nil
	}
	return err
}

func (c *CLI) Create(ctx context.Context, dbPath, language, sourceRoot string) error {
	return c.run(ctx, "database", "create", dbPath,
		"--language="+language, "--source-root", sourceRoot)
}

func (c *CLI) PackInstall(ctx context.Context) error {
	return c.run(ctx, "pack", "install")
}
