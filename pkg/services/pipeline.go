package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/graph"
	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
)

// PipelineConfig bounds batch parallelism and the shutdown grace period.
type PipelineConfig struct {
	Workers       int           // Concurrent episode workers, default 2
	ShutdownGrace time.Duration // Time given to in-flight rollbacks on shutdown
}

// EpisodeReport is the per-episode outcome of a batch run. A run reports
// committed or failed-with-reason, never partially committed.
type EpisodeReport struct {
	EpisodeID string
	Title     string
	Status    models.EpisodeStatus
	Reason    string
	Skipped   bool // Already complete in the checkpoint log
}

// EpisodePipeline orchestrates the per-episode stage chain and the parallel
// batch run. Episodes are independent; each worker owns its own coordinator
// and staging buffer, and every store write is episode-scoped.
type EpisodePipeline struct {
	extractor   *KnowledgeExtractor
	resolver    *EntityResolver
	enricher    *MetadataEnricher
	quotes      *QuoteExtractor
	checkpoints *CheckpointManager
	store       graph.GraphStore

	workers int
	grace   time.Duration
	logger  *zap.Logger
}

// NewEpisodePipeline wires the pipeline stages together.
func NewEpisodePipeline(
	extractor *KnowledgeExtractor,
	resolver *EntityResolver,
	enricher *MetadataEnricher,
	quotes *QuoteExtractor,
	checkpoints *CheckpointManager,
	store graph.GraphStore,
	cfg PipelineConfig,
	logger *zap.Logger,
) *EpisodePipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &EpisodePipeline{
		extractor:   extractor,
		resolver:    resolver,
		enricher:    enricher,
		quotes:      quotes,
		checkpoints: checkpoints,
		store:       store,
		workers:     cfg.Workers,
		grace:       cfg.ShutdownGrace,
		logger:      logger.Named("episode-pipeline"),
	}
}

// ProcessEpisode runs the full stage chain for one episode: extraction,
// resolution, enrichment, quote extraction, staged commit. Any stage failure
// aborts into a verified rollback and the episode is marked failed, eligible
// for full reprocessing on the next run.
func (p *EpisodePipeline) ProcessEpisode(ctx context.Context, episode *models.Episode) EpisodeReport {
	if p.checkpoints.IsComplete(ctx, episode.ID) {
		p.logger.Info("Episode already complete, skipping",
			zap.String("episode_id", episode.ID))
		return EpisodeReport{
			EpisodeID: episode.ID,
			Title:     episode.Title,
			Status:    models.EpisodeStatusCompleted,
			Skipped:   true,
		}
	}

	metrics := NewMetrics(episode.ID)
	defer metrics.Flush(p.logger)

	coordinator := NewStorageCoordinator(p.store, episode.ID, p.logger)

	err := p.runStages(ctx, episode, coordinator, metrics)
	if err != nil {
		return p.failEpisode(ctx, episode, coordinator, metrics, err)
	}

	if err := metrics.TimeStage("commit", func() error {
		return coordinator.Commit(ctx)
	}); err != nil {
		return p.failEpisode(ctx, episode, coordinator, metrics, err)
	}

	if err := p.checkpoints.MarkComplete(ctx, episode.ID); err != nil {
		// The commit succeeded and re-commits are merge-idempotent, so a lost
		// checkpoint only costs a reprocess on the next run.
		p.logger.Warn("Failed to record completion checkpoint",
			zap.String("episode_id", episode.ID), zap.Error(err))
	}

	return EpisodeReport{
		EpisodeID: episode.ID,
		Title:     episode.Title,
		Status:    models.EpisodeStatusCompleted,
	}
}

func (p *EpisodePipeline) runStages(ctx context.Context, episode *models.Episode, coordinator *StorageCoordinator, metrics *Metrics) error {
	var extraction *ExtractionResult
	if err := metrics.TimeStage("extraction", func() error {
		var err error
		extraction, err = p.extractor.ExtractEpisode(ctx, episode, metrics)
		return err
	}); err != nil {
		return err
	}

	var canonical []models.CanonicalEntity
	var mapping models.ResolutionMapping
	_ = metrics.TimeStage("resolution", func() error {
		canonical, mapping = p.resolver.Resolve(extraction.Entities)
		return nil
	})
	metrics.CanonicalEntities = len(canonical)

	var relationships []models.Relationship
	if err := metrics.TimeStage("enrichment", func() error {
		canonical = p.enricher.EnrichEntities(ctx, canonical)
		surfaceIndex := SurfaceIndex(extraction.Entities, mapping)
		relationships = p.enricher.EnrichRelationships(extraction.Relationships, surfaceIndex)
		return ctx.Err()
	}); err != nil {
		return err
	}
	metrics.Relationships = len(relationships)

	var quotes []models.Quote
	_ = metrics.TimeStage("quotes", func() error {
		quotes = p.quotes.ExtractQuotes(episode, extraction.QuoteCandidates, canonical, metrics)
		return nil
	})

	coordinator.StageEntities(canonical)
	coordinator.StageRelationships(relationships)
	coordinator.StageQuotes(quotes)
	metrics.NodesStaged = coordinator.StagedNodes()
	metrics.EdgesStaged = coordinator.StagedEdges()

	return ctx.Err()
}

// failEpisode performs the rollback and checkpoint bookkeeping for a failed
// episode. Rollback runs on a grace-period context detached from the batch
// context so shutdown cancellation cannot leave partial state visible.
func (p *EpisodePipeline) failEpisode(ctx context.Context, episode *models.Episode, coordinator *StorageCoordinator, metrics *Metrics, cause error) EpisodeReport {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.grace)
	defer cancel()

	reason := cause.Error()
	if coordinator.State() != StateRolledBack {
		if rbErr := coordinator.Fail(rollbackCtx, cause); rbErr != nil {
			reason = fmt.Sprintf("%s; rollback: %s", reason, rbErr.Error())
			p.logger.Error("Rollback did not complete cleanly",
				zap.String("episode_id", episode.ID), zap.Error(rbErr))
		}
	}

	if cpErr := p.checkpoints.MarkFailed(rollbackCtx, episode.ID, reason); cpErr != nil {
		p.logger.Warn("Failed to record failure checkpoint",
			zap.String("episode_id", episode.ID), zap.Error(cpErr))
	}

	return EpisodeReport{
		EpisodeID: episode.ID,
		Title:     episode.Title,
		Status:    models.EpisodeStatusFailed,
		Reason:    reason,
	}
}

// RunBatch processes independent episodes in parallel workers, bounded by the
// configured pool size. Reports are returned in input order. Cancellation of
// ctx lets in-flight episodes abort into rollback within the grace period.
func (p *EpisodePipeline) RunBatch(ctx context.Context, episodes []*models.Episode) []EpisodeReport {
	if len(episodes) == 0 {
		return nil
	}

	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: p.workers}, p.logger)

	items := make([]llm.WorkItem[EpisodeReport], 0, len(episodes))
	for _, episode := range episodes {
		episode := episode
		items = append(items, llm.WorkItem[EpisodeReport]{
			ID: episode.ID,
			Execute: func(ctx context.Context) (EpisodeReport, error) {
				return p.ProcessEpisode(ctx, episode), nil
			},
		})
	}

	results := llm.Process(ctx, pool, items, func(completed, total int) {
		p.logger.Info("Batch progress", zap.Int("completed", completed), zap.Int("total", total))
	})

	byID := make(map[string]EpisodeReport, len(results))
	for _, r := range results {
		if r.Err != nil {
			// Only the pool itself errors here (cancellation before start).
			byID[r.ID] = EpisodeReport{
				EpisodeID: r.ID,
				Status:    models.EpisodeStatusFailed,
				Reason:    r.Err.Error(),
			}
			continue
		}
		byID[r.ID] = r.Result
	}

	reports := make([]EpisodeReport, 0, len(episodes))
	for _, episode := range episodes {
		if report, ok := byID[episode.ID]; ok {
			if report.Title == "" {
				report.Title = episode.Title
			}
			reports = append(reports, report)
		}
	}
	return reports
}
