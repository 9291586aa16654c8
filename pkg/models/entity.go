package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// Extraction method constants. These represent HOW a graph object was produced.
const (
	ExtractionMethodLLM     = "llm"     // LLM knowledge extraction
	ExtractionMethodPattern = "pattern" // Deterministic pattern matching (quotes)
)

// CandidateEntity is raw extractor output before resolution. Candidates exist
// only during one episode's processing pass and are discarded after commit.
type CandidateEntity struct {
	ID           string  `json:"id"`   // Ephemeral, unique within one pass
	Name         string  `json:"name"` // Surface form as extracted
	Type         string  `json:"type"` // Free-form type string, no enforced vocabulary
	EpisodeID    string  `json:"episode_id"`
	SegmentID    string  `json:"segment_id"`
	SegmentIndex int     `json:"segment_index"`
	MentionedAt  float64 `json:"mentioned_at"` // Segment start offset in seconds
	Confidence   float64 `json:"confidence"`
}

// CanonicalEntity is the single deduplicated representation chosen to stand for
// all surface-form variants referring to the same real-world thing within an
// episode. Never mutated in place after commit.
type CanonicalEntity struct {
	ID             string         `json:"id"` // Deterministic identity key, episode-scoped
	EpisodeID      string         `json:"episode_id"`
	Name           string         `json:"name"` // Longest merged surface form
	Type           string         `json:"type"`
	Confidence     float64        `json:"confidence"`
	FirstMentionAt float64        `json:"first_mention_at"` // Seconds from episode start
	FirstSegmentID string         `json:"first_segment_id"`
	MentionCount   int            `json:"mention_count"`
	Aliases        []string       `json:"aliases,omitempty"`   // Merged surface forms other than Name
	Embedding      []float32      `json:"embedding,omitempty"` // Only when embedding enrichment is enabled
	Properties     map[string]any `json:"properties,omitempty"`
}

// ResolutionMapping is the transient many-to-one map from candidate entity IDs
// to canonical entity IDs, built once per episode and discarded after commit.
type ResolutionMapping map[string]string

// EntityIdentityKey derives the deterministic, episode-scoped identity key used
// for idempotent graph merges. Re-committing the same episode merges into the
// same node instead of duplicating it. The key hashes the exact canonical
// surface form: when the resolver keeps case-variant names as distinct
// canonical entities, they must map to distinct nodes.
func EntityIdentityKey(episodeID, name string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(name)))
	return fmt.Sprintf("%s:entity:%s", episodeID, hex.EncodeToString(sum[:8]))
}
