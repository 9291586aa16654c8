package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
)

func TestEnrichEntities_ProvenanceAndDefaults(t *testing.T) {
	enricher := NewMetadataEnricher(rules.Default(), nil, false, "", zap.NewNop())

	entities := enricher.EnrichEntities(context.Background(), []models.CanonicalEntity{
		{
			ID:             "ep1:entity:abc",
			EpisodeID:      "ep1",
			Name:           "Kubernetes",
			Type:           "technology",
			FirstMentionAt: 42.5,
			FirstSegmentID: "seg3",
			MentionCount:   4,
		},
	})

	require.Len(t, entities, 1)
	e := entities[0]
	assert.Equal(t, defaultEntityConfidence, e.Confidence, "missing confidence gets the default")
	assert.Equal(t, 42.5, e.Properties["first_mention_at"])
	assert.Equal(t, "seg3", e.Properties["first_segment_id"])
	assert.Equal(t, models.ExtractionMethodLLM, e.Properties["extraction_method"])
}

func TestEnrichRelationships_TypeNormalization(t *testing.T) {
	enricher := NewMetadataEnricher(rules.Default(), nil, false, "", zap.NewNop())

	surfaceIndex := map[string]string{
		"sarah chen": "canon1",
		"acme corp":  "canon2",
	}

	relationships := enricher.EnrichRelationships([]models.CandidateRelationship{
		{SourceName: "Sarah Chen", TargetName: "Acme Corp", Type: "works at", EpisodeID: "ep1", SegmentID: "seg1", Confidence: 0.8},
	}, surfaceIndex)

	require.Len(t, relationships, 1)
	assert.Equal(t, "WORKS_AT", relationships[0].Type)
	assert.Equal(t, "works at", relationships[0].RawType)
	assert.Equal(t, "canon1", relationships[0].SourceEntityID)
	assert.Equal(t, "canon2", relationships[0].TargetEntityID)
}

func TestEnrichRelationships_UnmappedTypePassesThrough(t *testing.T) {
	enricher := NewMetadataEnricher(rules.Default(), nil, false, "", zap.NewNop())

	surfaceIndex := map[string]string{"a": "canon1", "b": "canon2"}

	relationships := enricher.EnrichRelationships([]models.CandidateRelationship{
		{SourceName: "a", TargetName: "b", Type: "collaborated closely with", EpisodeID: "ep1", SegmentID: "seg1"},
	}, surfaceIndex)

	require.Len(t, relationships, 1)
	assert.Equal(t, "collaborated closely with", relationships[0].Type)
}

func TestEnrichRelationships_UnresolvedEndpointDropped(t *testing.T) {
	enricher := NewMetadataEnricher(rules.Default(), nil, false, "", zap.NewNop())

	relationships := enricher.EnrichRelationships([]models.CandidateRelationship{
		{SourceName: "known", TargetName: "never extracted", Type: "uses", EpisodeID: "ep1", SegmentID: "seg1"},
	}, map[string]string{"known": "canon1"})

	assert.Empty(t, relationships)
}

func TestEnrichRelationships_SelfAndDuplicateEdgesCollapsed(t *testing.T) {
	enricher := NewMetadataEnricher(rules.Default(), nil, false, "", zap.NewNop())

	surfaceIndex := map[string]string{"ai": "canon1", "artificial intelligence": "canon1", "go": "canon2"}

	relationships := enricher.EnrichRelationships([]models.CandidateRelationship{
		// Both endpoints resolve to the same canonical entity.
		{SourceName: "AI", TargetName: "Artificial Intelligence", Type: "uses", EpisodeID: "ep1", SegmentID: "seg1"},
		// Same resolved edge extracted twice.
		{SourceName: "AI", TargetName: "Go", Type: "uses", EpisodeID: "ep1", SegmentID: "seg1"},
		{SourceName: "Artificial Intelligence", TargetName: "Go", Type: "uses", EpisodeID: "ep1", SegmentID: "seg2"},
	}, surfaceIndex)

	assert.Len(t, relationships, 1)
}

func TestEnrichEntities_PropertyCap(t *testing.T) {
	rs := rules.Default()
	rs.Properties.MaxPerNode = 4
	rs.Properties.Priority = []string{"mention_count", "type", "name", "confidence"}
	enricher := NewMetadataEnricher(rs, nil, false, "", zap.NewNop())

	entities := enricher.EnrichEntities(context.Background(), []models.CanonicalEntity{
		{ID: "e1", EpisodeID: "ep1", Name: "Go", Type: "technology", Confidence: 0.9, MentionCount: 3, Aliases: []string{"Golang"}},
	})

	require.Len(t, entities, 1)
	props := entities[0].Properties
	assert.Len(t, props, 4)
	// Highest-priority properties survive.
	assert.Contains(t, props, "confidence")
	assert.Contains(t, props, "name")
	// Unlisted properties are dropped first.
	assert.NotContains(t, props, "extraction_method")
	assert.NotContains(t, props, "aliases")
}

func TestEnrichEntities_EmbeddingsEnabled(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
		out := make([][]float32, len(inputs))
		for i := range inputs {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}

	enricher := NewMetadataEnricher(rules.Default(), mock, true, "text-embedding-3-small", zap.NewNop())

	entities := enricher.EnrichEntities(context.Background(), []models.CanonicalEntity{
		{ID: "e1", EpisodeID: "ep1", Name: "Go", Type: "technology", Confidence: 0.9},
	})

	require.Len(t, entities, 1)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, entities[0].Embedding)
	assert.Equal(t, 1, mock.CreateEmbeddingsCalls)
}

func TestEnrichEntities_EmbeddingFailureIsNonFatal(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.CreateEmbeddingsFunc = func(ctx context.Context, inputs []string, model string) ([][]float32, error) {
		return nil, errors.New("embedding endpoint down")
	}

	enricher := NewMetadataEnricher(rules.Default(), mock, true, "text-embedding-3-small", zap.NewNop())

	entities := enricher.EnrichEntities(context.Background(), []models.CanonicalEntity{
		{ID: "e1", EpisodeID: "ep1", Name: "Go", Type: "technology", Confidence: 0.9},
	})

	require.Len(t, entities, 1)
	assert.Nil(t, entities[0].Embedding)
}

func TestEnrichEntities_EmbeddingsDisabledSkipsClient(t *testing.T) {
	mock := llm.NewMockLLMClient()
	enricher := NewMetadataEnricher(rules.Default(), mock, false, "", zap.NewNop())

	enricher.EnrichEntities(context.Background(), []models.CanonicalEntity{
		{ID: "e1", EpisodeID: "ep1", Name: "Go", Confidence: 0.9},
	})

	assert.Equal(t, 0, mock.CreateEmbeddingsCalls)
}
