package hydra

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	queryExt = ".ql"
	suiteExt = ".qls"

	// languageSniffBytes bounds how much of a query file is read when
	// inferring its language from import statements.
	languageSniffBytes = 8192
)

// importLangRe matches the language a query imports in its header, e.g.
// "import javascript". This is more reliable than path tokens when both are
// present.
var importLangRe = regexp.MustCompile(`(?im)^\s*import\s+(java|javascript|python|cpp|swift|ruby|kotlin|typescript|go|csharp)\b`)

// excludedPathElements are directory names conventionally holding query
// libraries, test fixtures, or example code rather than runnable queries.
var excludedPathElements = map[string]bool{
	"test":     true,
	"tests":    true,
	"testdata": true,
	"fixtures": true,
}

// QueryCatalog discovers and classifies runnable query files.
type QueryCatalog struct {
	// SuiteOnly restricts discovery to query suites (.qls), skipping unit
	// queries entirely.
	SuiteOnly bool
}

// Discover walks queryDirs and returns every runnable query classified by
// subject language, restricted to the requested languages. Within each
// directory, suites are preferred: if any .qls exists there, unit queries in
// that directory are skipped (suites typically reference them).
//
// Output order is deterministic: directory argument order, then lexical walk
// order within each directory. Duplicate files reachable from more than one
// directory are kept once, at their first position. Files matching no
// requested language are dropped with a warning, never mis-assigned.
func (c *QueryCatalog) Discover(queryDirs, languages []string) []QueryFile {
	langs := aliasedLanguageSet(languages)

	var collected []QueryFile
	seen := make(map[string]bool)

	for _, dir := range queryDirs {
		for _, path := range c.collectDir(dir) {
			canonical, err := filepath.Abs(path)
			if err != nil {
				canonical = path
			}
			if seen[canonical] {
				continue
			}
			seen[canonical] = true

			lang, ok := classifyQuery(canonical, langs)
			if !ok {
				slog.Warn("could not infer language for query", "path", canonical)
				continue
			}

			kind := QueryUnit
			if strings.HasSuffix(canonical, suiteExt) {
				kind = QuerySuite
			}
			collected = append(collected, QueryFile{Path: canonical, Language: lang, Kind: kind})
		}
	}
	return collected
}

// collectDir gathers candidate query paths under one directory in lexical
// walk order, applying the suite preference and path exclusions.
func (c *QueryCatalog) collectDir(dir string) []string {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		slog.Warn("query dir does not exist", "dir", dir)
		return nil
	}

	var suites, units []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if excludedPathElements[strings.ToLower(d.Name())] {
				return fs.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case suiteExt:
			suites = append(suites, path)
		case queryExt:
			units = append(units, path)
		}
		return nil
	})

	if c.SuiteOnly || len(suites) > 0 {
		return suites
	}
	return units
}

// aliasedLanguageSet resolves the requested languages through aliasing,
// preserving request order and dropping duplicates.
func aliasedLanguageSet(languages []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, raw := range languages {
		lang := AliasLanguage(raw)
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		out = append(out, lang)
	}
	return out
}

// classifyQuery determines a query's subject language. The query header's
// import statement wins; otherwise the first requested language appearing as
// a path element wins. Returns false when neither matches.
func classifyQuery(path string, langs []string) (string, bool) {
	if detected, ok := sniffImportLanguage(path); ok {
		for _, lang := range langs {
			if lang == detected {
				return detected, true
			}
		}
		// A query importing an unrequested language must not be assigned to
		// a requested one by path accident.
		return "", false
	}

	parts := strings.Split(strings.ToLower(filepath.ToSlash(path)), "/")
	for _, lang := range langs {
		for _, part := range parts {
			if part == lang {
				return lang, true
			}
		}
	}
	return "", false
}

// sniffImportLanguage reads the head of a query file looking for an import
// of a known language pack.
func sniffImportLanguage(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	head := make([]byte, languageSniffBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", false
	}
	m := importLangRe.FindSubmatch(head[:n])
	if m == nil {
		return "", false
	}
	return AliasLanguage(string(m[1])), true
}
