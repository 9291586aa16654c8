package services

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
)

const defaultEntityConfidence = 0.5

// MetadataEnricher attaches temporal, source, and confidence metadata to
// canonical entities, resolves and normalizes relationships, and optionally
// computes embeddings. Property growth per node is bounded by the rule set.
type MetadataEnricher struct {
	rules             *rules.RuleSet
	client            llm.LLMClient
	embeddingsEnabled bool
	embeddingModel    string
	logger            *zap.Logger
}

// NewMetadataEnricher creates an enricher. The LLM client is only used when
// embeddings are enabled and may be nil otherwise.
func NewMetadataEnricher(rs *rules.RuleSet, client llm.LLMClient, embeddingsEnabled bool, embeddingModel string, logger *zap.Logger) *MetadataEnricher {
	return &MetadataEnricher{
		rules:             rs,
		client:            client,
		embeddingsEnabled: embeddingsEnabled,
		embeddingModel:    embeddingModel,
		logger:            logger.Named("metadata-enricher"),
	}
}

// EnrichEntities fills in default confidence, provenance properties, and
// optional embeddings on each canonical entity, in place. Embedding failures
// log and continue: embeddings are enrichment, not correctness.
func (e *MetadataEnricher) EnrichEntities(ctx context.Context, entities []models.CanonicalEntity) []models.CanonicalEntity {
	for i := range entities {
		entity := &entities[i]
		if entity.Confidence <= 0 {
			entity.Confidence = defaultEntityConfidence
		}

		props := map[string]any{
			"name":              entity.Name,
			"type":              entity.Type,
			"confidence":        entity.Confidence,
			"first_mention_at":  entity.FirstMentionAt,
			"first_segment_id":  entity.FirstSegmentID,
			"mention_count":     entity.MentionCount,
			"extraction_method": models.ExtractionMethodLLM,
		}
		if len(entity.Aliases) > 0 {
			props["aliases"] = entity.Aliases
		}
		entity.Properties = e.applyPropertyCap(props)
	}

	if e.embeddingsEnabled {
		e.attachEmbeddings(ctx, entities)
	}

	return entities
}

func (e *MetadataEnricher) attachEmbeddings(ctx context.Context, entities []models.CanonicalEntity) {
	if e.client == nil || len(entities) == 0 {
		return
	}

	inputs := make([]string, len(entities))
	for i, entity := range entities {
		inputs[i] = entity.Name
	}

	embeddings, err := e.client.CreateEmbeddings(ctx, inputs, e.embeddingModel)
	if err != nil {
		e.logger.Warn("Embedding enrichment failed, continuing without embeddings", zap.Error(err))
		return
	}
	if len(embeddings) != len(entities) {
		e.logger.Warn("Embedding count mismatch, skipping",
			zap.Int("expected", len(entities)), zap.Int("got", len(embeddings)))
		return
	}

	for i := range entities {
		entities[i].Embedding = embeddings[i]
		if entities[i].Properties != nil {
			entities[i].Properties["embedding_model"] = e.embeddingModel
			entities[i].Properties = e.applyPropertyCap(entities[i].Properties)
		}
	}
}

// EnrichRelationships resolves relationship endpoints against the surface
// index, normalizes types through the rule table, and derives deterministic
// identity keys. Relationships whose endpoints did not resolve are dropped
// with a log line; they cannot be stored without both nodes.
func (e *MetadataEnricher) EnrichRelationships(candidates []models.CandidateRelationship, surfaceIndex map[string]string) []models.Relationship {
	var out []models.Relationship
	seen := make(map[string]bool)

	for _, cand := range candidates {
		sourceID, sourceOK := surfaceIndex[strings.ToLower(strings.TrimSpace(cand.SourceName))]
		targetID, targetOK := surfaceIndex[strings.ToLower(strings.TrimSpace(cand.TargetName))]
		if !sourceOK || !targetOK {
			e.logger.Debug("Dropping relationship with unresolved endpoint",
				zap.String("source", cand.SourceName),
				zap.String("target", cand.TargetName),
				zap.String("type", cand.Type))
			continue
		}
		if sourceID == targetID {
			continue
		}

		normalized := e.normalizeRelationshipType(cand.Type)
		id := models.RelationshipIdentityKey(cand.EpisodeID, sourceID, targetID, normalized)
		if seen[id] {
			continue
		}
		seen[id] = true

		conf := cand.Confidence
		if conf <= 0 {
			conf = defaultEntityConfidence
		}

		out = append(out, models.Relationship{
			ID:             id,
			EpisodeID:      cand.EpisodeID,
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			Type:           normalized,
			RawType:        cand.Type,
			Confidence:     conf,
			SegmentID:      cand.SegmentID,
			Properties: map[string]any{
				"confidence":        conf,
				"raw_type":          cand.Type,
				"segment_id":        cand.SegmentID,
				"extraction_method": models.ExtractionMethodLLM,
			},
		})
	}

	return out
}

// normalizeRelationshipType maps free-text relationship types to canonical
// forms. Unmapped types pass through unchanged but are logged for later rule
// table expansion.
func (e *MetadataEnricher) normalizeRelationshipType(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if normalized, ok := e.rules.RelationshipTypes[key]; ok {
		return normalized
	}
	e.logger.Info("Unmapped relationship type, passing through", zap.String("type", raw))
	return raw
}

// applyPropertyCap drops excess properties in ascending priority order when a
// node exceeds the configured maximum. Properties not in the priority list
// rank below everything listed. Never fails.
func (e *MetadataEnricher) applyPropertyCap(props map[string]any) map[string]any {
	max := e.rules.Properties.MaxPerNode
	if max <= 0 || len(props) <= max {
		return props
	}

	rank := make(map[string]int, len(e.rules.Properties.Priority))
	for i, name := range e.rules.Properties.Priority {
		rank[name] = i + 1 // Unlisted properties rank 0, dropped first
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := rank[names[i]], rank[names[j]]
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})

	dropped := len(props) - max
	for _, name := range names[:dropped] {
		delete(props, name)
	}
	e.logger.Debug("Property cap applied", zap.Int("dropped", dropped), zap.Int("max", max))
	return props
}
