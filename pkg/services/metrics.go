package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Metrics accumulates per-episode pipeline counters. One value is created per
// episode, threaded through each stage, and flushed exactly once at episode
// completion. No global instrumentation state.
type Metrics struct {
	mu sync.Mutex

	EpisodeID string
	StartedAt time.Time

	SegmentCount      int
	SegmentsExtracted int
	SegmentsFailed    int

	CandidateEntities      int
	CandidateRelationships int
	CanonicalEntities      int
	Relationships          int

	QuoteCandidates int
	QuotesValidated int
	QuotesStored    int

	NodesStaged     int
	EdgesStaged     int
	RollbackDeleted int64

	stageDurations map[string]time.Duration
}

// NewMetrics creates a metrics value for one episode.
func NewMetrics(episodeID string) *Metrics {
	return &Metrics{
		EpisodeID:      episodeID,
		StartedAt:      time.Now(),
		stageDurations: make(map[string]time.Duration),
	}
}

// RecordStage adds the elapsed duration for a named pipeline stage.
func (m *Metrics) RecordStage(stage string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stageDurations[stage] += d
}

// TimeStage runs fn and records its duration under the stage name.
func (m *Metrics) TimeStage(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordStage(stage, time.Since(start))
	return err
}

// Flush logs the accumulated metrics once. Called at episode completion,
// whether the episode committed or rolled back.
func (m *Metrics) Flush(logger *zap.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := []zap.Field{
		zap.String("episode_id", m.EpisodeID),
		zap.Duration("elapsed", time.Since(m.StartedAt)),
		zap.Int("segments", m.SegmentCount),
		zap.Int("segments_extracted", m.SegmentsExtracted),
		zap.Int("segments_failed", m.SegmentsFailed),
		zap.Int("candidate_entities", m.CandidateEntities),
		zap.Int("candidate_relationships", m.CandidateRelationships),
		zap.Int("canonical_entities", m.CanonicalEntities),
		zap.Int("relationships", m.Relationships),
		zap.Int("quote_candidates", m.QuoteCandidates),
		zap.Int("quotes_validated", m.QuotesValidated),
		zap.Int("quotes_stored", m.QuotesStored),
		zap.Int("nodes_staged", m.NodesStaged),
		zap.Int("edges_staged", m.EdgesStaged),
	}
	if m.RollbackDeleted > 0 {
		fields = append(fields, zap.Int64("rollback_deleted", m.RollbackDeleted))
	}
	for stage, d := range m.stageDurations {
		fields = append(fields, zap.Duration("stage_"+stage, d))
	}

	logger.Info("Episode metrics", fields...)
}
