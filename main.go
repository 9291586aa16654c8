package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/config"
	"github.com/podgraph-inc/podgraph-engine/pkg/database"
	"github.com/podgraph-inc/podgraph-engine/pkg/graph"
	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/logging"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/repositories"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
	"github.com/podgraph-inc/podgraph-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	manifestPath := flag.String("episodes", "", "path to the episode manifest (JSON array of episodes with segments)")
	flag.Parse()

	if *manifestPath == "" {
		log.Fatal("missing required -episodes flag")
	}

	cfg, err := config.Load(*configPath, Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Starting podgraph-engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("checkpoint_store", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("graph_store", cfg.Graph.URI),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model))

	if err := run(cfg, logger, *manifestPath); err != nil {
		logger.Error("Run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, manifestPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	episodes, err := loadManifest(manifestPath)
	if err != nil {
		return err
	}
	logger.Info("Loaded episode manifest",
		zap.String("path", manifestPath),
		zap.Int("episodes", len(episodes)))

	if err := database.RunMigrations(cfg.Database.URL(), cfg.MigrationsPath, logger); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return fmt.Errorf("checkpoint store connection failed: %w", err)
	}
	defer db.Close()

	store, err := graph.NewNeo4jStore(ctx, &graph.Neo4jConfig{
		URI:         cfg.Graph.URI,
		Username:    cfg.Graph.Username,
		Password:    cfg.Graph.Password,
		Database:    cfg.Graph.Database,
		MaxPoolSize: cfg.Graph.MaxPoolSize,
		Timeout:     time.Duration(cfg.Graph.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("graph store connection failed: %w", err)
	}
	defer store.Close(ctx)

	client, err := llm.New(&llm.Config{
		Provider: llm.Provider(cfg.LLM.Provider),
		Endpoint: cfg.LLM.Endpoint,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
	}, logger)
	if err != nil {
		return fmt.Errorf("llm client creation failed: %w", err)
	}

	ruleSet := rules.Load(cfg.RulesPath, logger)

	preprocessor := services.NewSegmentPreprocessor(cfg.Pipeline.DryRun, logger)
	strategy := services.NewLLMExtractionStrategy(client, preprocessor, cfg.LLM.CallTimeout(), logger)

	pipeline := services.NewEpisodePipeline(
		services.NewKnowledgeExtractor(strategy, logger),
		services.NewEntityResolver(ruleSet, logger),
		services.NewMetadataEnricher(ruleSet, client, cfg.LLM.EmbeddingsEnabled, cfg.LLM.EmbeddingModel, logger),
		services.NewQuoteExtractor(ruleSet, logger),
		services.NewCheckpointManager(repositories.NewCheckpointRepository(db), logger),
		store,
		services.PipelineConfig{
			Workers:       cfg.Pipeline.Workers,
			ShutdownGrace: cfg.Pipeline.ShutdownGrace(),
		},
		logger,
	)

	reports := pipeline.RunBatch(ctx, episodes)

	failed := 0
	for _, report := range reports {
		switch {
		case report.Skipped:
			logger.Info("Episode skipped (already complete)",
				zap.String("episode_id", report.EpisodeID),
				zap.String("title", report.Title))
		case report.Status == models.EpisodeStatusCompleted:
			logger.Info("Episode committed",
				zap.String("episode_id", report.EpisodeID),
				zap.String("title", report.Title))
		default:
			failed++
			logger.Error("Episode failed",
				zap.String("episode_id", report.EpisodeID),
				zap.String("title", report.Title),
				zap.String("reason", report.Reason))
		}
	}

	logger.Info("Batch finished",
		zap.Int("total", len(reports)),
		zap.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("%d of %d episodes failed", failed, len(reports))
	}
	return nil
}

// loadManifest reads a JSON array of episodes with their segments. Ingestion
// (feed fetching, transcription) happens upstream; the engine consumes its
// output.
func loadManifest(path string) ([]*models.Episode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read episode manifest: %w", err)
	}

	var episodes []*models.Episode
	if err := json.Unmarshal(data, &episodes); err != nil {
		return nil, fmt.Errorf("failed to parse episode manifest: %w", err)
	}

	for _, episode := range episodes {
		if episode.ID == "" {
			return nil, fmt.Errorf("episode manifest entry missing id")
		}
	}
	return episodes, nil
}
