// Package rules holds the declarative resolution-rule documents as strongly
// typed in-memory values. A RuleSet is loaded once per batch run and passed
// explicitly to the components that consume it — no global mutable rule state.
package rules

// RuleSet is the full declarative rule document driving entity resolution,
// relationship normalization, metadata limits, and quote extraction. Pure data:
// match behavior lives in the resolver, not here.
type RuleSet struct {
	Thresholds        Thresholds        `yaml:"thresholds"`
	Options           Options           `yaml:"options"`
	AliasGroups       [][]string        `yaml:"alias_groups"`       // Interchangeable surface forms
	Abbreviations     map[string]string `yaml:"abbreviations"`      // Short form -> expanded form
	IrregularPlurals  map[string]string `yaml:"irregular_plurals"`  // Plural -> singular, e.g. people -> person
	DomainRules       []DomainRule      `yaml:"domain_rules"`       // Pre-cascade surface transforms
	Exclusions        [][]string        `yaml:"exclusions"`         // Name pairs that must never merge
	RelationshipTypes map[string]string `yaml:"relationship_types"` // Free text -> canonical, e.g. "works at" -> WORKS_AT
	Properties        PropertyRules     `yaml:"properties"`
	Quotes            QuoteRules        `yaml:"quotes"`
}

// Thresholds are the similarity scores assigned per match rule, and the minimum
// overlap ratio for the fuzzy rule.
type Thresholds struct {
	Exact           float64 `yaml:"exact"`
	CaseInsensitive float64 `yaml:"case_insensitive"`
	Alias           float64 `yaml:"alias"`
	Abbreviation    float64 `yaml:"abbreviation"`
	Plural          float64 `yaml:"plural"`
	Fuzzy           float64 `yaml:"fuzzy"` // Minimum overlap ratio, default 0.85
}

// Options are the boolean gates on individual match rules.
type Options struct {
	CaseInsensitive  bool `yaml:"case_insensitive"`
	UseAliases       bool `yaml:"use_aliases"`
	UseAbbreviations bool `yaml:"use_abbreviations"`
	UsePlurals       bool `yaml:"use_plurals"`
	UseFuzzy         bool `yaml:"use_fuzzy"`
	// ConfidenceWeight switches merged-entity confidence from max-of-candidates
	// to a confidence-weighted average.
	ConfidenceWeight bool `yaml:"confidence_weight"`
}

// DomainRule is a configuration-driven surface-name transformation applied
// before the match cascade, not a separate match rule. The canonical name
// chosen after a merge is still the original, pre-transform surface form.
type DomainRule struct {
	Domain string `yaml:"domain"` // e.g. "technology", "business"
	// StripVersions removes trailing version designators, e.g. "Python 3.8" -> "Python".
	StripVersions bool `yaml:"strip_versions"`
	// StripSuffixes removes trailing tokens such as legal-entity suffixes,
	// e.g. "Apple Inc." -> "Apple".
	StripSuffixes []string `yaml:"strip_suffixes"`
	Enabled       bool     `yaml:"enabled"`
}

// PropertyRules bound metadata growth on graph nodes.
type PropertyRules struct {
	// MaxPerNode caps properties per node. Excess properties are dropped in
	// ascending priority order, never causing a failure.
	MaxPerNode int `yaml:"max_per_node"`
	// Priority lists property names from lowest to highest priority. Properties
	// not listed rank below everything listed.
	Priority []string `yaml:"priority"`
}

// QuoteRules configure quote candidate detection and importance filtering.
type QuoteRules struct {
	MinLength           int          `yaml:"min_length"`
	MaxLength           int          `yaml:"max_length"`
	ImportanceThreshold float64      `yaml:"importance_threshold"`
	Weights             QuoteWeights `yaml:"weights"`
}

// QuoteWeights are the components of the 0-1 importance heuristic.
type QuoteWeights struct {
	Length      float64 `yaml:"length"`
	Assertion   float64 `yaml:"assertion"`   // Lexical markers of assertion or opinion
	Attribution float64 `yaml:"attribution"` // Presence of a resolvable speaker
}

// Default returns the built-in rule set used when no document is provided.
func Default() *RuleSet {
	rs := &RuleSet{
		Thresholds: Thresholds{
			Exact:           1.0,
			CaseInsensitive: 0.95,
			Alias:           0.90,
			Abbreviation:    0.90,
			Plural:          0.90,
			Fuzzy:           0.85,
		},
		Options: Options{
			CaseInsensitive:  true,
			UseAliases:       true,
			UseAbbreviations: true,
			UsePlurals:       true,
			UseFuzzy:         true,
		},
		RelationshipTypes: map[string]string{
			"works at":    "WORKS_AT",
			"works for":   "WORKS_AT",
			"founded":     "FOUNDED",
			"founder of":  "FOUNDED",
			"created":     "CREATED",
			"invested in": "INVESTED_IN",
			"part of":     "PART_OF",
			"located in":  "LOCATED_IN",
			"married to":  "MARRIED_TO",
			"hosts":       "HOSTS",
			"uses":        "USES",
		},
		Properties: PropertyRules{
			MaxPerNode: 16,
			Priority: []string{
				"embedding_model",
				"extraction_method",
				"aliases",
				"mention_count",
				"first_segment_id",
				"first_mention_at",
				"confidence",
			},
		},
		Quotes: QuoteRules{
			MinLength:           20,
			MaxLength:           500,
			ImportanceThreshold: 0.4,
			Weights: QuoteWeights{
				Length:      0.3,
				Assertion:   0.4,
				Attribution: 0.3,
			},
		},
	}
	return rs
}

// ExactOnly returns the degraded rule set used when the rule document is
// malformed or missing: exact match only, every other rule gated off.
func ExactOnly() *RuleSet {
	rs := Default()
	rs.Options = Options{}
	rs.AliasGroups = nil
	rs.Abbreviations = nil
	rs.IrregularPlurals = nil
	rs.DomainRules = nil
	rs.Exclusions = nil
	return rs
}

// normalize clamps thresholds into [0,1], fills zero values with defaults, and
// drops malformed exclusion entries.
func (rs *RuleSet) normalize() {
	def := Default()

	clamp := func(v, fallback float64) float64 {
		if v <= 0 || v > 1 {
			return fallback
		}
		return v
	}
	rs.Thresholds.Exact = clamp(rs.Thresholds.Exact, def.Thresholds.Exact)
	rs.Thresholds.CaseInsensitive = clamp(rs.Thresholds.CaseInsensitive, def.Thresholds.CaseInsensitive)
	rs.Thresholds.Alias = clamp(rs.Thresholds.Alias, def.Thresholds.Alias)
	rs.Thresholds.Abbreviation = clamp(rs.Thresholds.Abbreviation, def.Thresholds.Abbreviation)
	rs.Thresholds.Plural = clamp(rs.Thresholds.Plural, def.Thresholds.Plural)
	rs.Thresholds.Fuzzy = clamp(rs.Thresholds.Fuzzy, def.Thresholds.Fuzzy)

	valid := rs.Exclusions[:0]
	for _, pair := range rs.Exclusions {
		if len(pair) == 2 && pair[0] != "" && pair[1] != "" {
			valid = append(valid, pair)
		}
	}
	rs.Exclusions = valid

	if rs.Properties.MaxPerNode <= 0 {
		rs.Properties.MaxPerNode = def.Properties.MaxPerNode
	}
	if rs.Quotes.MinLength <= 0 {
		rs.Quotes.MinLength = def.Quotes.MinLength
	}
	if rs.Quotes.MaxLength <= rs.Quotes.MinLength {
		rs.Quotes.MaxLength = def.Quotes.MaxLength
	}
	if rs.Quotes.ImportanceThreshold <= 0 || rs.Quotes.ImportanceThreshold > 1 {
		rs.Quotes.ImportanceThreshold = def.Quotes.ImportanceThreshold
	}
	if rs.Quotes.Weights == (QuoteWeights{}) {
		rs.Quotes.Weights = def.Quotes.Weights
	}
}
