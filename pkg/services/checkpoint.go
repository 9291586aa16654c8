package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/apperrors"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/repositories"
)

// CheckpointManager records per-episode completion around the whole pipeline
// chain so a crashed or interrupted batch run can resume without reprocessing
// completed episodes.
type CheckpointManager struct {
	repo   repositories.CheckpointRepository
	logger *zap.Logger
}

// NewCheckpointManager creates a checkpoint manager over the given repository.
func NewCheckpointManager(repo repositories.CheckpointRepository, logger *zap.Logger) *CheckpointManager {
	return &CheckpointManager{
		repo:   repo,
		logger: logger.Named("checkpoint-manager"),
	}
}

// IsComplete reports whether an episode has been fully committed. Unreadable
// or unknown-status records are treated as not complete: reprocessing a
// completed episode is merge-idempotent, silently skipping a failed one is not
// acceptable.
func (m *CheckpointManager) IsComplete(ctx context.Context, episodeID string) bool {
	cp, err := m.repo.Get(ctx, episodeID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false
	}
	if err != nil {
		m.logger.Warn("Checkpoint read failed, treating episode as not complete",
			zap.String("episode_id", episodeID), zap.Error(err))
		return false
	}
	if !cp.Status.IsValid() {
		m.logger.Warn("Corrupt checkpoint status, treating episode as not complete",
			zap.String("episode_id", episodeID), zap.String("status", string(cp.Status)))
		return false
	}
	return cp.Status == models.EpisodeStatusCompleted
}

// MarkComplete records successful commit of an episode.
func (m *CheckpointManager) MarkComplete(ctx context.Context, episodeID string) error {
	err := m.repo.Put(ctx, &models.Checkpoint{
		EpisodeID: episodeID,
		Status:    models.EpisodeStatusCompleted,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark episode %s complete: %w", episodeID, err)
	}
	return nil
}

// MarkFailed records episode failure with its cause. A failed episode is
// eligible for full reprocessing on the next run.
func (m *CheckpointManager) MarkFailed(ctx context.Context, episodeID, reason string) error {
	err := m.repo.Put(ctx, &models.Checkpoint{
		EpisodeID: episodeID,
		Status:    models.EpisodeStatusFailed,
		Reason:    &reason,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark episode %s failed: %w", episodeID, err)
	}
	return nil
}
