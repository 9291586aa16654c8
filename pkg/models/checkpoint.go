package models

import "time"

// EpisodeStatus is the persisted completion state of an episode.
type EpisodeStatus string

// Episode status constants. Anything else found in the checkpoint store is
// treated as not complete (safe default: reprocess rather than silently skip).
const (
	EpisodeStatusCompleted EpisodeStatus = "completed"
	EpisodeStatusFailed    EpisodeStatus = "failed"
)

// IsValid returns true if the status is a known episode status.
func (s EpisodeStatus) IsValid() bool {
	switch s {
	case EpisodeStatusCompleted, EpisodeStatusFailed:
		return true
	default:
		return false
	}
}

// Checkpoint is a durable marker of per-episode completion used to make a
// multi-episode batch job safely resumable. Coarse-grained: there is no
// partial-episode resume, consistent with the atomicity invariant.
type Checkpoint struct {
	EpisodeID string        `json:"episode_id"`
	Status    EpisodeStatus `json:"status"`
	Reason    *string       `json:"reason,omitempty"` // Failure cause, nil for completed
	UpdatedAt time.Time     `json:"updated_at"`
}
