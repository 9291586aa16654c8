package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParse(t *testing.T) {
	doc := `
thresholds:
  fuzzy: 0.9
options:
  case_insensitive: true
  use_aliases: true
alias_groups:
  - ["AI", "Artificial Intelligence"]
abbreviations:
  ML: Machine Learning
irregular_plurals:
  people: person
exclusions:
  - ["Java", "JavaScript"]
  - ["only-one-element"]
relationship_types:
  "works at": WORKS_AT
`
	rs, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 0.9, rs.Thresholds.Fuzzy)
	assert.True(t, rs.Options.CaseInsensitive)
	assert.True(t, rs.Options.UseAliases)
	assert.Len(t, rs.AliasGroups, 1)
	assert.Equal(t, "Machine Learning", rs.Abbreviations["ML"])
	assert.Equal(t, "person", rs.IrregularPlurals["people"])
	assert.Equal(t, "WORKS_AT", rs.RelationshipTypes["works at"])

	// Malformed exclusion entries are dropped, valid ones kept.
	require.Len(t, rs.Exclusions, 1)
	assert.Equal(t, []string{"Java", "JavaScript"}, rs.Exclusions[0])
}

func TestParse_NormalizesThresholds(t *testing.T) {
	rs, err := Parse([]byte("thresholds:\n  fuzzy: 1.5\n  exact: -2\n"))
	require.NoError(t, err)

	assert.Equal(t, 0.85, rs.Thresholds.Fuzzy)
	assert.Equal(t, 1.0, rs.Thresholds.Exact)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("thresholds: [not, a, mapping"))
	assert.Error(t, err)
}

func TestLoad_MalformedFallsBackToExactOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{ not yaml"), 0o644))

	rs := Load(path, zap.NewNop())

	require.NotNil(t, rs)
	assert.False(t, rs.Options.CaseInsensitive)
	assert.False(t, rs.Options.UseFuzzy)
	assert.Empty(t, rs.AliasGroups)
	assert.Empty(t, rs.Exclusions)
	assert.Equal(t, 1.0, rs.Thresholds.Exact)
}

func TestLoad_MissingFileFallsBackToExactOnly(t *testing.T) {
	rs := Load(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())

	require.NotNil(t, rs)
	assert.False(t, rs.Options.UseAliases)
}

func TestLoad_ValidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	doc := "options:\n  use_fuzzy: true\nexclusions:\n  - [\"Java\", \"JavaScript\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rs := Load(path, zap.NewNop())

	assert.True(t, rs.Options.UseFuzzy)
	assert.Len(t, rs.Exclusions, 1)
}

func TestDefault_QuoteBounds(t *testing.T) {
	rs := Default()

	assert.Greater(t, rs.Quotes.MaxLength, rs.Quotes.MinLength)
	assert.InDelta(t, 1.0, rs.Quotes.Weights.Length+rs.Quotes.Weights.Assertion+rs.Quotes.Weights.Attribution, 0.001)
}
