package hydra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAliasLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"java", "java"},
		{"Java", "java"},
		{"typescript", "javascript"},
		{"TypeScript", "javascript"},
		{"kotlin", "java"},
		{" python ", "python"},
		{"cpp", "cpp"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, AliasLanguage(tt.in))
		})
	}
}

func TestKnownSeverity(t *testing.T) {
	t.Parallel()

	assert.True(t, KnownSeverity("error"))
	assert.True(t, KnownSeverity("Warning"))
	assert.True(t, KnownSeverity("CRITICAL"))
	assert.True(t, KnownSeverity(" high "))
	assert.False(t, KnownSeverity("bogus"))
	assert.False(t, KnownSeverity(""))
}

func TestSeverityMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		candidate string
		target    string
		want      bool
	}{
		{"error maps to critical", "error", "CRITICAL", true},
		{"warning maps to high", "warning", "HIGH", true},
		{"note maps to medium", "note", "MEDIUM", true},
		{"exact tier", "HIGH", "HIGH", true},
		{"substring", "VERY HIGH", "HIGH", true},
		{"case insensitive", "critical", "critical", true},
		{"mismatch", "note", "CRITICAL", false},
		{"empty candidate", "", "HIGH", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityMatches(tt.candidate, tt.target))
		})
	}
}

func TestStatusStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "finalized", DBFinalized.String())
	assert.Equal(t, "locked", DBLocked.String())
	assert.Equal(t, "missing", DBMissing.String())
	assert.Equal(t, "not finalized", DBNotFinalized.String())
	assert.Equal(t, "success", JobSuccess.String())
	assert.Equal(t, "empty", JobEmpty.String())
	assert.Equal(t, "failed", JobFailed.String())
	assert.Equal(t, "suite", QuerySuite.String())
	assert.Equal(t, "query", QueryUnit.String())
}
