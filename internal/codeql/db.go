package codeql

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// On-disk database layout markers. These paths are the engine's contract:
// hydra probes them read-only (and may delete a cache lock), never writes
// or reinterprets them.
const (
	// MetadataFile marks a directory as a CodeQL database.
	MetadataFile = "codeql-database.yml"

	cacheLockRel = "default/cache/.lock"
)

// HasMetadata reports whether dbDir contains the database metadata file.
func HasMetadata(dbDir string) bool {
	_, err := os.Stat(filepath.Join(dbDir, MetadataFile))
	return err == nil
}

// StructureOK reports whether dbDir has at least one db-* subdirectory,
// which finalized databases always carry.
func StructureOK(dbDir string) bool {
	entries, err := os.ReadDir(dbDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "db-") {
			return true
		}
	}
	return false
}

// LockPaths returns every cache lock file present under dbDir, both at the
// database root and inside db-* subdirectories.
func LockPaths(dbDir string) []string {
	var locks []string

	direct := filepath.Join(dbDir, filepath.FromSlash(cacheLockRel))
	if fi, err := os.Stat(direct); err == nil && !fi.IsDir() {
		locks = append(locks, direct)
	}

	matches, _ := filepath.Glob(filepath.Join(dbDir, "db-*", filepath.FromSlash(cacheLockRel)))
	for _, m := range matches {
		if fi, err := os.Stat(m); err == nil && !fi.IsDir() {
			locks = append(locks, m)
		}
	}
	return locks
}

var lockPIDRe = regexp.MustCompile(`(?i)pid\s*=\s*(\d+)`)
var anyIntRe = regexp.MustCompile(`(\d+)`)

// ReadLockPID extracts the owning process ID from a lock file. The lock
// format is the engine's; we only look for a "pid = N" field, falling back
// to the first integer in the file.
func ReadLockPID(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	if m := lockPIDRe.FindSubmatch(data); m != nil {
		pid, err := strconv.Atoi(string(m[1]))
		return pid, err == nil
	}
	if m := anyIntRe.FindSubmatch(data); m != nil {
		pid, err := strconv.Atoi(string(m[1]))
		return pid, err == nil
	}
	return 0, false
}

// RemoveLock deletes a cache lock file, escalating through chmod and a
// rename to a .stale name if a plain unlink is refused.
func RemoveLock(lockPath string) error {
	if err := os.Remove(lockPath); err == nil {
		return nil
	}
	if err := os.Chmod(lockPath, 0o666); err == nil {
		if err := os.Remove(lockPath); err == nil {
			return nil
		}
	}
	stale := lockPath + ".stale"
	return os.Rename(lockPath, stale)
}

// emptyCheckExclude lists database subtrees that exist even in an empty
// database and must not count toward content.
var emptyCheckExclude = []string{"default/cache", "logs", "results", "working", "diagnostic"}

// emptyThreshold: a database carrying more than this many files outside the
// bookkeeping subtrees has real extracted content.
const emptyThreshold = 50

// IsEmpty reports whether dbDir holds no meaningful extracted content.
// Scanning such a database wastes an engine invocation per query, so the
// registry skips empty databases unless forced.
func IsEmpty(dbDir string) bool {
	count := 0
	_ = filepath.WalkDir(dbDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(dbDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		for _, ex := range emptyCheckExclude {
			if rel == ex || strings.HasPrefix(rel, ex+"/") {
				if d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		count++
		if count > emptyThreshold {
			return fs.SkipAll
		}
		return nil
	})
	return count <= emptyThreshold
}
