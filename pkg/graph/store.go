package graph

import (
	"context"
	"strings"
	"unicode"
)

// NodeUpsert describes a node write keyed by a deterministic identity so the
// same node can be merged repeatedly without creating duplicates.
type NodeUpsert struct {
	ID         string // Deterministic identity key, unique within the graph
	EpisodeID  string // Every node is stamped with its episode for scoped rollback
	Label      string // Node label, e.g. Entity or Quote
	Properties map[string]any
}

// EdgeUpsert describes a relationship write between two previously written nodes.
type EdgeUpsert struct {
	ID         string
	EpisodeID  string
	SourceID   string
	TargetID   string
	Type       string // Relationship type in SCREAMING_SNAKE_CASE
	Properties map[string]any
}

// GraphStore abstracts the knowledge graph backend. All writes are idempotent
// merges keyed on ID, and everything written for an episode can be deleted and
// counted by episode for commit verification.
type GraphStore interface {
	// UpsertNodes merges a batch of nodes. Partial writes are possible on
	// error; callers are expected to roll back by episode.
	UpsertNodes(ctx context.Context, nodes []NodeUpsert) error
	// UpsertEdges merges a batch of relationships between existing nodes.
	UpsertEdges(ctx context.Context, edges []EdgeUpsert) error
	// DeleteByEpisode removes every node and relationship stamped with the
	// episode ID and returns the number of nodes deleted.
	DeleteByEpisode(ctx context.Context, episodeID string) (int64, error)
	// CountByEpisode returns the number of nodes stamped with the episode ID.
	CountByEpisode(ctx context.Context, episodeID string) (int64, error)
}

// SanitizeLabel converts an arbitrary type string into a safe Cypher label or
// relationship type. Labels cannot be parameterized in Cypher, so anything
// interpolated into a query goes through here first.
func SanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return "Unknown"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}
