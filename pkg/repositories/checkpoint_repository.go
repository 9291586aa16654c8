package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/podgraph-inc/podgraph-engine/pkg/apperrors"
	"github.com/podgraph-inc/podgraph-engine/pkg/database"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
)

// CheckpointRepository persists per-episode completion records so interrupted
// batch runs can resume without reprocessing finished episodes.
type CheckpointRepository interface {
	// Get returns the checkpoint for an episode, or apperrors.ErrNotFound if
	// the episode has never been recorded.
	Get(ctx context.Context, episodeID string) (*models.Checkpoint, error)
	// Put inserts or replaces the checkpoint for an episode.
	Put(ctx context.Context, checkpoint *models.Checkpoint) error
	// List returns all checkpoints, most recently updated first.
	List(ctx context.Context) ([]*models.Checkpoint, error)
}

type checkpointRepository struct {
	db *database.DB
}

// NewCheckpointRepository creates a Postgres-backed checkpoint repository.
func NewCheckpointRepository(db *database.DB) CheckpointRepository {
	return &checkpointRepository{db: db}
}

var _ CheckpointRepository = (*checkpointRepository)(nil)

func (r *checkpointRepository) Get(ctx context.Context, episodeID string) (*models.Checkpoint, error) {
	query := `
		SELECT episode_id, status, reason, updated_at
		FROM episode_checkpoints
		WHERE episode_id = $1`

	var cp models.Checkpoint
	err := r.db.QueryRow(ctx, query, episodeID).Scan(
		&cp.EpisodeID, &cp.Status, &cp.Reason, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for episode %s: %w", episodeID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return &cp, nil
}

func (r *checkpointRepository) Put(ctx context.Context, checkpoint *models.Checkpoint) error {
	query := `
		INSERT INTO episode_checkpoints (episode_id, status, reason, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (episode_id)
		DO UPDATE SET status = $2, reason = $3, updated_at = $4`

	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		checkpoint.EpisodeID, checkpoint.Status, checkpoint.Reason, checkpoint.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put checkpoint: %w", err)
	}

	return nil
}

func (r *checkpointRepository) List(ctx context.Context) ([]*models.Checkpoint, error) {
	query := `
		SELECT episode_id, status, reason, updated_at
		FROM episode_checkpoints
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*models.Checkpoint
	for rows.Next() {
		var cp models.Checkpoint
		if err := rows.Scan(&cp.EpisodeID, &cp.Status, &cp.Reason, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoints: %w", err)
	}

	return checkpoints, nil
}

// MemoryCheckpointRepository is an in-memory CheckpointRepository for tests
// and dry runs.
type MemoryCheckpointRepository struct {
	mu          sync.RWMutex
	checkpoints map[string]*models.Checkpoint

	// PutErr, when set, is returned by Put to simulate store failures.
	PutErr error
}

// NewMemoryCheckpointRepository creates an empty in-memory repository.
func NewMemoryCheckpointRepository() *MemoryCheckpointRepository {
	return &MemoryCheckpointRepository{
		checkpoints: make(map[string]*models.Checkpoint),
	}
}

var _ CheckpointRepository = (*MemoryCheckpointRepository)(nil)

func (r *MemoryCheckpointRepository) Get(ctx context.Context, episodeID string) (*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cp, ok := r.checkpoints[episodeID]
	if !ok {
		return nil, fmt.Errorf("checkpoint for episode %s: %w", episodeID, apperrors.ErrNotFound)
	}
	copied := *cp
	return &copied, nil
}

func (r *MemoryCheckpointRepository) Put(ctx context.Context, checkpoint *models.Checkpoint) error {
	if r.PutErr != nil {
		return r.PutErr
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now().UTC()
	}
	copied := *checkpoint
	r.checkpoints[checkpoint.EpisodeID] = &copied
	return nil
}

func (r *MemoryCheckpointRepository) List(ctx context.Context) ([]*models.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	checkpoints := make([]*models.Checkpoint, 0, len(r.checkpoints))
	for _, cp := range r.checkpoints {
		copied := *cp
		checkpoints = append(checkpoints, &copied)
	}
	return checkpoints, nil
}
