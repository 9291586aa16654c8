package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// CandidateRelationship is raw extractor output: a directed edge between two
// surface-form entity names, before resolution.
type CandidateRelationship struct {
	SourceName   string  `json:"source_name"`
	TargetName   string  `json:"target_name"`
	Type         string  `json:"type"` // Free text, e.g. "works at"
	EpisodeID    string  `json:"episode_id"`
	SegmentID    string  `json:"segment_id"`
	SegmentIndex int     `json:"segment_index"`
	Confidence   float64 `json:"confidence"`
}

// Relationship is a directed typed edge between two canonical entities.
type Relationship struct {
	ID             string         `json:"id"` // Deterministic identity key, episode-scoped
	EpisodeID      string         `json:"episode_id"`
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	Type           string         `json:"type"`     // Normalized, e.g. "WORKS_AT"
	RawType        string         `json:"raw_type"` // Extractor output before normalization
	Confidence     float64        `json:"confidence"`
	SegmentID      string         `json:"segment_id"`
	Properties     map[string]any `json:"properties,omitempty"`
}

// RelationshipIdentityKey derives the deterministic identity key for an edge so
// that a retried commit merges instead of duplicating.
func RelationshipIdentityKey(episodeID, sourceID, targetID, relType string) string {
	sum := sha1.Sum([]byte(strings.Join([]string{sourceID, targetID, relType}, "|")))
	return fmt.Sprintf("%s:rel:%s", episodeID, hex.EncodeToString(sum[:8]))
}
