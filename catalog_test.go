package hydra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func writeQuery(t *testing.T, dir string, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func queryPaths(queries []QueryFile) []string {
	paths := make([]string, len(queries))
	for i, q := range queries {
		paths[i] = q.Path
	}
	return paths
}

// =============================================================================
// Classification
// =============================================================================

func TestDiscover_PathTokenClassification(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	javaQ := writeQuery(t, dir, "java/security/Foo.ql", "select 1")
	pyQ := writeQuery(t, dir, "python/Bar.ql", "select 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java", "python"})

	require.Len(t, queries, 2)
	byPath := map[string]QueryFile{}
	for _, q := range queries {
		byPath[q.Path] = q
	}
	assert.Equal(t, "java", byPath[javaQ].Language)
	assert.Equal(t, "python", byPath[pyQ].Language)
	assert.Equal(t, QueryUnit, byPath[javaQ].Kind)
}

func TestDiscover_ImportHeaderWinsOverPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Sits under a java directory but imports javascript.
	q := writeQuery(t, dir, "java/Sneaky.ql", "import javascript\n\nselect 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java", "javascript"})

	require.Len(t, queries, 1)
	assert.Equal(t, q, queries[0].Path)
	assert.Equal(t, "javascript", queries[0].Language)
}

func TestDiscover_ImportOfUnrequestedLanguageDrops(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// Imports python, which is not requested; the java path token must not
	// reclaim it.
	writeQuery(t, dir, "java/Wrong.ql", "import python\nselect 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java"})
	assert.Empty(t, queries)
}

func TestDiscover_AliasedLanguages(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	// typescript queries run against the javascript database.
	writeQuery(t, dir, "typescript/Taint.ql", "import typescript\nselect 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"typescript"})

	require.Len(t, queries, 1)
	assert.Equal(t, "javascript", queries[0].Language)
}

func TestDiscover_UnclassifiableDropped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeQuery(t, dir, "misc/NoHint.ql", "select 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java"})
	assert.Empty(t, queries)
}

// =============================================================================
// Suite preference and exclusions
// =============================================================================

func TestDiscover_SuitesPreferredWhenPresent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeQuery(t, dir, "java/Unit.ql", "import java\nselect 1")
	suite := writeQuery(t, dir, "java/all.qls", "- queries: .")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java"})

	require.Len(t, queries, 1)
	assert.Equal(t, suite, queries[0].Path)
	assert.Equal(t, QuerySuite, queries[0].Kind)
}

func TestDiscover_UnitQueriesWhenNoSuites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	q := writeQuery(t, dir, "java/Unit.ql", "import java\nselect 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java"})

	require.Len(t, queries, 1)
	assert.Equal(t, q, queries[0].Path)
}

func TestDiscover_SuiteOnlySkipsUnits(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeQuery(t, dir, "java/Unit.ql", "import java\nselect 1")

	c := &QueryCatalog{SuiteOnly: true}
	queries := c.Discover([]string{dir}, []string{"java"})
	assert.Empty(t, queries)
}

func TestDiscover_ExcludesFixtureDirsAndLibraries(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	kept := writeQuery(t, dir, "java/Real.ql", "import java\nselect 1")
	writeQuery(t, dir, "java/test/Fixture.ql", "import java\nselect 1")
	writeQuery(t, dir, "java/testdata/Fixture.ql", "import java\nselect 1")
	writeQuery(t, dir, "java/lib/Helpers.qll", "import java")

	c := &QueryCatalog{}
	queries := c.Discover([]string{dir}, []string{"java"})
	assert.Equal(t, []string{kept}, queryPaths(queries))
}

// =============================================================================
// Ordering and dedup
// =============================================================================

func TestDiscover_Deterministic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeQuery(t, dir, "java/A.ql", "import java\nselect 1")
	writeQuery(t, dir, "java/B.ql", "import java\nselect 1")
	writeQuery(t, dir, "python/C.ql", "import python\nselect 1")

	c := &QueryCatalog{}
	first := c.Discover([]string{dir}, []string{"java", "python"})
	second := c.Discover([]string{dir}, []string{"java", "python"})
	assert.Equal(t, first, second)
}

func TestDiscover_DeduplicatesAcrossDirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	writeQuery(t, dir, "java/A.ql", "import java\nselect 1")
	sub := filepath.Join(dir, "java")

	c := &QueryCatalog{}
	// The same file is reachable from both directory arguments.
	queries := c.Discover([]string{dir, sub}, []string{"java"})
	assert.Len(t, queries, 1)
}

func TestDiscover_MissingDirIgnored(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	q := writeQuery(t, dir, "java/A.ql", "import java\nselect 1")

	c := &QueryCatalog{}
	queries := c.Discover([]string{filepath.Join(dir, "nope"), dir}, []string{"java"})
	assert.Equal(t, []string{q}, queryPaths(queries))
}
