package models

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// UnknownSpeaker is the sentinel speaker attribution for quotes whose raw
// speaker label could not be resolved to a canonical entity. Quotes with
// unresolved speakers are stored rather than dropped.
const UnknownSpeaker = "unknown"

// QuoteCandidate is a raw quote span proposed by pattern detection or the
// extractor, before validation against its source segment.
type QuoteCandidate struct {
	Text         string `json:"text"`
	SpeakerLabel string `json:"speaker_label"`
	EpisodeID    string `json:"episode_id"`
	SegmentID    string `json:"segment_id"`
	SegmentIndex int    `json:"segment_index"`
}

// Quote is a validated text span attributed to a speaker, linked to the segment
// it was extracted from and to at most one canonical entity.
type Quote struct {
	ID              string  `json:"id"` // Deterministic identity key, episode-scoped
	EpisodeID       string  `json:"episode_id"`
	SegmentID       string  `json:"segment_id"`
	Text            string  `json:"text"`
	SpeakerLabel    string  `json:"speaker_label"`               // Raw label or UnknownSpeaker
	SpeakerEntityID string  `json:"speaker_entity_id,omitempty"` // Empty when unresolved
	Importance      float64 `json:"importance"`                  // 0.0-1.0 weighted heuristic
	MentionedAt     float64 `json:"mentioned_at"`                // Segment start offset in seconds
}

// QuoteIdentityKey derives the deterministic identity key for a quote.
func QuoteIdentityKey(episodeID, segmentID, text string) string {
	sum := sha1.Sum([]byte(segmentID + "|" + text))
	return fmt.Sprintf("%s:quote:%s", episodeID, hex.EncodeToString(sum[:8]))
}
