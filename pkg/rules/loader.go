package rules

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML rule document into a normalized RuleSet.
func Parse(data []byte) (*RuleSet, error) {
	rs := &RuleSet{}
	if err := yaml.Unmarshal(data, rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule document: %w", err)
	}
	rs.normalize()
	return rs, nil
}

// Load reads a rule document from disk. A missing, unreadable, or malformed
// document must not crash the pipeline: Load degrades to exact-match-only with
// a logged warning and never returns an error.
func Load(path string, logger *zap.Logger) *RuleSet {
	if path == "" {
		logger.Warn("No rule document configured, falling back to exact-match-only resolution")
		return ExactOnly()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read rule document, falling back to exact-match-only resolution",
			zap.String("path", path),
			zap.Error(err))
		return ExactOnly()
	}

	rs, err := Parse(data)
	if err != nil {
		logger.Warn("Malformed rule document, falling back to exact-match-only resolution",
			zap.String("path", path),
			zap.Error(err))
		return ExactOnly()
	}

	logger.Info("Loaded rule document",
		zap.String("path", path),
		zap.Int("alias_groups", len(rs.AliasGroups)),
		zap.Int("abbreviations", len(rs.Abbreviations)),
		zap.Int("exclusions", len(rs.Exclusions)),
		zap.Int("domain_rules", len(rs.DomainRules)))
	return rs
}
