package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/apperrors"
	"github.com/podgraph-inc/podgraph-engine/pkg/graph"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/retry"
)

// CommitState is the storage coordinator's episode commit state.
type CommitState string

const (
	StateStaging    CommitState = "STAGING"
	StateCommitting CommitState = "COMMITTING"
	StateCommitted  CommitState = "COMMITTED"
	StateFailed     CommitState = "FAILED"
	StateRolledBack CommitState = "ROLLED_BACK"
)

// StorageCoordinator is the transactional boundary for one episode: it stages
// all nodes, edges, and quotes in memory, writes them on commit, and on any
// failure deletes everything stamped with the episode ID and verifies the
// deletion. One coordinator is owned exclusively by the worker processing its
// episode; it is not safe for concurrent use.
type StorageCoordinator struct {
	store       graph.GraphStore
	retryConfig *retry.Config
	logger      *zap.Logger

	episodeID string
	state     CommitState
	nodes     []graph.NodeUpsert
	edges     []graph.EdgeUpsert
}

// NewStorageCoordinator creates a coordinator in STAGING state for one episode.
func NewStorageCoordinator(store graph.GraphStore, episodeID string, logger *zap.Logger) *StorageCoordinator {
	return &StorageCoordinator{
		store:       store,
		retryConfig: retry.DefaultConfig(),
		logger:      logger.Named("storage-coordinator").With(zap.String("episode_id", episodeID)),
		episodeID:   episodeID,
		state:       StateStaging,
	}
}

// State returns the current commit state.
func (c *StorageCoordinator) State() CommitState {
	return c.state
}

// StageEntities buffers canonical entity nodes for commit.
func (c *StorageCoordinator) StageEntities(entities []models.CanonicalEntity) {
	for _, e := range entities {
		props := make(map[string]any, len(e.Properties)+1)
		for k, v := range e.Properties {
			props[k] = v
		}
		if len(e.Embedding) > 0 {
			props["embedding"] = e.Embedding
		}
		c.nodes = append(c.nodes, graph.NodeUpsert{
			ID:         e.ID,
			EpisodeID:  c.episodeID,
			Label:      "Entity",
			Properties: props,
		})
	}
}

// StageRelationships buffers relationship edges for commit.
func (c *StorageCoordinator) StageRelationships(relationships []models.Relationship) {
	for _, r := range relationships {
		c.edges = append(c.edges, graph.EdgeUpsert{
			ID:         r.ID,
			EpisodeID:  c.episodeID,
			SourceID:   r.SourceEntityID,
			TargetID:   r.TargetEntityID,
			Type:       r.Type,
			Properties: r.Properties,
		})
	}
}

// StageQuotes buffers quote nodes and their speaker attribution edges.
func (c *StorageCoordinator) StageQuotes(quotes []models.Quote) {
	for _, q := range quotes {
		c.nodes = append(c.nodes, graph.NodeUpsert{
			ID:        q.ID,
			EpisodeID: c.episodeID,
			Label:     "Quote",
			Properties: map[string]any{
				"text":          q.Text,
				"speaker_label": q.SpeakerLabel,
				"importance":    q.Importance,
				"mentioned_at":  q.MentionedAt,
				"segment_id":    q.SegmentID,
			},
		})
		if q.SpeakerEntityID != "" {
			c.edges = append(c.edges, graph.EdgeUpsert{
				ID:        q.ID + ":spoken_by",
				EpisodeID: c.episodeID,
				SourceID:  q.ID,
				TargetID:  q.SpeakerEntityID,
				Type:      "SPOKEN_BY",
				Properties: map[string]any{
					"segment_id": q.SegmentID,
				},
			})
		}
	}
}

// StagedNodes returns the number of buffered nodes.
func (c *StorageCoordinator) StagedNodes() int { return len(c.nodes) }

// StagedEdges returns the number of buffered edges.
func (c *StorageCoordinator) StagedEdges() int { return len(c.edges) }

// Commit writes all staged objects to the graph store. Writes are idempotent
// merges by identity key, so a retried commit does not duplicate nodes. Any
// write failure transitions to FAILED and triggers a verified rollback; the
// returned error wraps apperrors.ErrCommitFailed.
func (c *StorageCoordinator) Commit(ctx context.Context) error {
	if c.state != StateStaging {
		return fmt.Errorf("commit from state %s: %w", c.state, apperrors.ErrCommitFailed)
	}
	c.state = StateCommitting

	err := retry.Do(ctx, c.retryConfig, func() error {
		return c.store.UpsertNodes(ctx, c.nodes)
	})
	if err == nil {
		err = retry.Do(ctx, c.retryConfig, func() error {
			return c.store.UpsertEdges(ctx, c.edges)
		})
	}

	if err != nil {
		c.state = StateFailed
		if rbErr := c.rollback(ctx); rbErr != nil {
			return fmt.Errorf("commit failed (%v) and rollback failed: %w", err, rbErr)
		}
		return fmt.Errorf("commit: %v: %w", err, apperrors.ErrCommitFailed)
	}

	c.state = StateCommitted
	c.logger.Info("Episode committed",
		zap.Int("nodes", len(c.nodes)),
		zap.Int("edges", len(c.edges)))
	return nil
}

// Fail transitions the episode to FAILED from any non-terminal state and
// performs the verified rollback. Safe to call when nothing was written yet.
func (c *StorageCoordinator) Fail(ctx context.Context, cause error) error {
	if c.state == StateCommitted || c.state == StateRolledBack {
		return fmt.Errorf("fail from terminal state %s", c.state)
	}
	c.state = StateFailed
	c.logger.Warn("Episode failed, rolling back", zap.Error(cause))
	return c.rollback(ctx)
}

// rollback deletes everything stamped with the episode ID and then verifies
// that zero objects remain. A failure mid-commit after N of M writes is the
// critical case: the rollback must be verified, not assumed.
func (c *StorageCoordinator) rollback(ctx context.Context) error {
	var deleted int64
	err := retry.Do(ctx, c.retryConfig, func() error {
		var delErr error
		deleted, delErr = c.store.DeleteByEpisode(ctx, c.episodeID)
		return delErr
	})
	if err != nil {
		return fmt.Errorf("rollback delete for episode %s: %v: %w",
			c.episodeID, err, apperrors.ErrRollbackIncomplete)
	}

	remaining, err := c.store.CountByEpisode(ctx, c.episodeID)
	if err != nil {
		return fmt.Errorf("rollback verification for episode %s: %v: %w",
			c.episodeID, err, apperrors.ErrRollbackIncomplete)
	}
	if remaining != 0 {
		return fmt.Errorf("rollback left %d objects for episode %s: %w",
			remaining, c.episodeID, apperrors.ErrRollbackIncomplete)
	}

	c.state = StateRolledBack
	c.logger.Info("Episode rolled back", zap.Int64("deleted", deleted))
	return nil
}
