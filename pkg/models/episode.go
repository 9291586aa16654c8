// Package models contains domain types for podgraph-engine.
package models

// Episode is the unit of atomicity for graph ingestion. An episode's graph
// contribution is either fully committed or fully absent — no partial-episode
// state is a valid persisted state.
type Episode struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	SourceRef string    `json:"source_ref"` // Feed URL, file path, or upstream identifier
	Segments  []Segment `json:"segments"`   // Ordered by transcript position
}

// Segment is one timestamped utterance from a transcript. Segments are created
// by the ingestion step and are read-only inputs to the pipeline.
type Segment struct {
	ID        string  `json:"id"`
	EpisodeID string  `json:"episode_id"`
	Index     int     `json:"index"` // Position in transcript order
	Start     float64 `json:"start"` // Seconds from episode start
	End       float64 `json:"end"`
	Speaker   string  `json:"speaker"` // Possibly generic, e.g. "Speaker 0"
	Text      string  `json:"text"`
}

// Duration returns the segment length in seconds.
func (s *Segment) Duration() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}
