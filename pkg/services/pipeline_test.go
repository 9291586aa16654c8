package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/graph"
	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/repositories"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
)

func newTestPipeline(strategy ExtractionStrategy, store graph.GraphStore, repo repositories.CheckpointRepository) *EpisodePipeline {
	logger := zap.NewNop()
	return NewEpisodePipeline(
		NewKnowledgeExtractor(strategy, logger),
		NewEntityResolver(rules.Default(), logger),
		NewMetadataEnricher(rules.Default(), nil, false, "", logger),
		NewQuoteExtractor(rules.Default(), logger),
		NewCheckpointManager(repo, logger),
		store,
		PipelineConfig{Workers: 2, ShutdownGrace: 5 * time.Second},
		logger,
	)
}

func TestProcessEpisode_CommitsAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	repo := repositories.NewMemoryCheckpointRepository()

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return entityResult(segment, "Kubernetes", "Google"), nil
	}}

	pipeline := newTestPipeline(strategy, store, repo)
	episode := testEpisode("Google created Kubernetes.")

	report := pipeline.ProcessEpisode(ctx, episode)
	assert.Equal(t, models.EpisodeStatusCompleted, report.Status)
	assert.False(t, report.Skipped)

	count, err := store.CountByEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	cp, err := repo.Get(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, models.EpisodeStatusCompleted, cp.Status)
}

func TestProcessEpisode_CheckpointSkip(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	repo := repositories.NewMemoryCheckpointRepository()

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return entityResult(segment, "Kubernetes"), nil
	}}

	pipeline := newTestPipeline(strategy, store, repo)
	episode := testEpisode("already done")

	require.NoError(t, repo.Put(ctx, &models.Checkpoint{
		EpisodeID: "ep1",
		Status:    models.EpisodeStatusCompleted,
	}))

	report := pipeline.ProcessEpisode(ctx, episode)
	assert.True(t, report.Skipped)
	assert.Equal(t, models.EpisodeStatusCompleted, report.Status)
	assert.Equal(t, int32(0), strategy.calls.Load(), "completed episodes must not hit the extractor")
}

func TestProcessEpisode_FailureRollsBackAndMarksFailed(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	store.FailNodesAfter = 1
	repo := repositories.NewMemoryCheckpointRepository()

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return entityResult(segment, "A", "B", "C"), nil
	}}

	pipeline := newTestPipeline(strategy, store, repo)
	episode := testEpisode("doomed segment")

	report := pipeline.ProcessEpisode(ctx, episode)
	assert.Equal(t, models.EpisodeStatusFailed, report.Status)
	assert.NotEmpty(t, report.Reason)

	count, err := store.CountByEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "failed episodes leave zero graph objects")

	cp, err := repo.Get(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, models.EpisodeStatusFailed, cp.Status)
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	repo := repositories.NewMemoryCheckpointRepository()

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		if segment.EpisodeID == "ep-bad" {
			return nil, llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
		}
		return entityResult(segment, "Kubernetes"), nil
	}}

	pipeline := newTestPipeline(strategy, store, repo)

	good := testEpisode("fine segment")
	good.ID = "ep-good"
	for i := range good.Segments {
		good.Segments[i].EpisodeID = "ep-good"
	}
	bad := testEpisode("broken segment")
	bad.ID = "ep-bad"
	for i := range bad.Segments {
		bad.Segments[i].EpisodeID = "ep-bad"
	}

	reports := pipeline.RunBatch(ctx, []*models.Episode{good, bad})
	require.Len(t, reports, 2)

	byID := map[string]EpisodeReport{}
	for _, r := range reports {
		byID[r.EpisodeID] = r
	}
	assert.Equal(t, models.EpisodeStatusCompleted, byID["ep-good"].Status)
	assert.Equal(t, models.EpisodeStatusFailed, byID["ep-bad"].Status)

	goodCount, err := store.CountByEpisode(ctx, "ep-good")
	require.NoError(t, err)
	assert.Equal(t, int64(1), goodCount)

	badCount, err := store.CountByEpisode(ctx, "ep-bad")
	require.NoError(t, err)
	assert.Equal(t, int64(0), badCount)
}

func TestRunBatch_ReportsInInputOrder(t *testing.T) {
	ctx := context.Background()
	store := graph.NewMemoryStore()
	repo := repositories.NewMemoryCheckpointRepository()

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return entityResult(segment, "X"), nil
	}}

	pipeline := newTestPipeline(strategy, store, repo)

	var episodes []*models.Episode
	for _, id := range []string{"ep-a", "ep-b", "ep-c"} {
		ep := testEpisode("segment text")
		ep.ID = id
		for i := range ep.Segments {
			ep.Segments[i].EpisodeID = id
		}
		episodes = append(episodes, ep)
	}

	reports := pipeline.RunBatch(ctx, episodes)
	require.Len(t, reports, 3)
	assert.Equal(t, "ep-a", reports[0].EpisodeID)
	assert.Equal(t, "ep-b", reports[1].EpisodeID)
	assert.Equal(t, "ep-c", reports[2].EpisodeID)
}

func TestRunBatch_CancellationMarksInFlightFailed(t *testing.T) {
	store := graph.NewMemoryStore()
	repo := repositories.NewMemoryCheckpointRepository()

	ctx, cancel := context.WithCancel(context.Background())

	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	pipeline := newTestPipeline(strategy, store, repo)
	episode := testEpisode("in flight during shutdown")

	reports := pipeline.RunBatch(ctx, []*models.Episode{episode})
	require.Len(t, reports, 1)
	assert.Equal(t, models.EpisodeStatusFailed, reports[0].Status)

	// Safe to retry: the failure checkpoint landed despite the canceled batch
	// context, because rollback bookkeeping runs on the grace context.
	cp, err := repo.Get(context.Background(), "ep1")
	require.NoError(t, err)
	assert.Equal(t, models.EpisodeStatusFailed, cp.Status)

	count, err := store.CountByEpisode(context.Background(), "ep1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
