package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Neo4jConfig holds connection settings for the Neo4j backend.
type Neo4jConfig struct {
	URI         string
	Username    string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// Neo4jStore implements GraphStore against a Neo4j database. Nodes are merged
// by their deterministic identity key and stamped with their episode ID so a
// failed commit can be rolled back without touching other episodes.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

var _ GraphStore = (*Neo4jStore)(nil)

// NewNeo4jStore connects to Neo4j, verifies connectivity, and initializes the
// uniqueness constraints the merge queries rely on.
func NewNeo4jStore(ctx context.Context, cfg *Neo4jConfig, logger *zap.Logger) (*Neo4jStore, error) {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify neo4j connectivity: %w", err)
	}

	s := &Neo4jStore{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.Named("neo4j-store"),
	}

	if err := s.initSchema(ctx); err != nil {
		// Constraints are an optimization, not a correctness requirement.
		s.logger.Warn("Schema init failed (continuing)", zap.Error(err))
	}

	return s, nil
}

func (s *Neo4jStore) initSchema(ctx context.Context) error {
	session := s.newSession(ctx)
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT quote_id_unique IF NOT EXISTS FOR (q:Quote) REQUIRE q.id IS UNIQUE`,
		`CREATE INDEX entity_episode IF NOT EXISTS FOR (e:Entity) ON (e.episode_id)`,
		`CREATE INDEX quote_episode IF NOT EXISTS FOR (q:Quote) ON (q.episode_id)`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			return err
		}
		if _, err := res.Consume(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Neo4jStore) newSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
}

// UpsertNodes merges nodes grouped by label. Each node is keyed on id, has all
// its properties replaced, and is stamped with its episode ID.
func (s *Neo4jStore) UpsertNodes(ctx context.Context, nodes []NodeUpsert) error {
	if len(nodes) == 0 {
		return nil
	}

	byLabel := make(map[string][]map[string]any)
	for _, n := range nodes {
		label := SanitizeLabel(n.Label)
		props := make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			props[k] = v
		}
		byLabel[label] = append(byLabel[label], map[string]any{
			"id":         n.ID,
			"episode_id": n.EpisodeID,
			"props":      props,
		})
	}

	session := s.newSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for label, batch := range byLabel {
			query := fmt.Sprintf(`
UNWIND $nodes AS n
MERGE (x:%s {id: n.id})
SET x += n.props
SET x.episode_id = n.episode_id
`, label)
			res, err := tx.Run(ctx, query, map[string]any{"nodes": batch})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert nodes: %w", err)
	}

	s.logger.Debug("Upserted nodes", zap.Int("count", len(nodes)))
	return nil
}

// UpsertEdges merges relationships grouped by type. Both endpoints must
// already exist; edges whose endpoints are missing are silently skipped by the
// MATCH, which keeps a partially rolled-back episode from resurrecting nodes.
func (s *Neo4jStore) UpsertEdges(ctx context.Context, edges []EdgeUpsert) error {
	if len(edges) == 0 {
		return nil
	}

	byType := make(map[string][]map[string]any)
	for _, e := range edges {
		relType := SanitizeLabel(e.Type)
		props := make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			props[k] = v
		}
		byType[relType] = append(byType[relType], map[string]any{
			"id":         e.ID,
			"episode_id": e.EpisodeID,
			"source_id":  e.SourceID,
			"target_id":  e.TargetID,
			"props":      props,
		})
	}

	session := s.newSession(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for relType, batch := range byType {
			query := fmt.Sprintf(`
UNWIND $edges AS e
MATCH (src {id: e.source_id})
MATCH (dst {id: e.target_id})
MERGE (src)-[r:%s {id: e.id}]->(dst)
SET r += e.props
SET r.episode_id = e.episode_id
`, relType)
			res, err := tx.Run(ctx, query, map[string]any{"edges": batch})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert edges: %w", err)
	}

	s.logger.Debug("Upserted edges", zap.Int("count", len(edges)))
	return nil
}

// DeleteByEpisode removes all nodes stamped with the episode ID along with
// their relationships, returning the number of nodes deleted.
func (s *Neo4jStore) DeleteByEpisode(ctx context.Context, episodeID string) (int64, error) {
	session := s.newSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {episode_id: $episode_id})
DETACH DELETE n
RETURN count(n) AS deleted
`, map[string]any{"episode_id": episodeID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		deleted, _ := record.Get("deleted")
		return deleted, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete episode %s: %w", episodeID, err)
	}

	deleted, _ := result.(int64)
	s.logger.Info("Deleted episode data", zap.String("episode_id", episodeID), zap.Int64("nodes", deleted))
	return deleted, nil
}

// CountByEpisode returns the number of nodes stamped with the episode ID.
func (s *Neo4jStore) CountByEpisode(ctx context.Context, episodeID string) (int64, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (n {episode_id: $episode_id})
RETURN count(n) AS total
`, map[string]any{"episode_id": episodeID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		total, _ := record.Get("total")
		return total, nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count episode %s: %w", episodeID, err)
	}

	total, _ := result.(int64)
	return total, nil
}

// Close releases the underlying driver.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
