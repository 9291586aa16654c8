package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	node := NodeUpsert{
		ID:        "ep1:entity:abc123",
		EpisodeID: "ep1",
		Label:     "Entity",
		Properties: map[string]any{
			"name": "Kubernetes",
		},
	}

	require.NoError(t, store.UpsertNodes(ctx, []NodeUpsert{node}))
	require.NoError(t, store.UpsertNodes(ctx, []NodeUpsert{node}))

	assert.Equal(t, 1, store.NodeCount())

	count, err := store.CountByEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_EdgesRequireEndpoints(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertNodes(ctx, []NodeUpsert{
		{ID: "n1", EpisodeID: "ep1", Label: "Entity"},
	}))

	// Target does not exist, edge should be skipped without error.
	require.NoError(t, store.UpsertEdges(ctx, []EdgeUpsert{
		{ID: "e1", EpisodeID: "ep1", SourceID: "n1", TargetID: "missing", Type: "USES"},
	}))
	assert.Equal(t, 0, store.EdgeCount())

	require.NoError(t, store.UpsertNodes(ctx, []NodeUpsert{
		{ID: "n2", EpisodeID: "ep1", Label: "Entity"},
	}))
	require.NoError(t, store.UpsertEdges(ctx, []EdgeUpsert{
		{ID: "e1", EpisodeID: "ep1", SourceID: "n1", TargetID: "n2", Type: "USES"},
	}))
	assert.Equal(t, 1, store.EdgeCount())
}

func TestMemoryStore_DeleteByEpisodeIsScoped(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertNodes(ctx, []NodeUpsert{
		{ID: "a1", EpisodeID: "ep1", Label: "Entity"},
		{ID: "a2", EpisodeID: "ep1", Label: "Entity"},
		{ID: "b1", EpisodeID: "ep2", Label: "Entity"},
	}))
	require.NoError(t, store.UpsertEdges(ctx, []EdgeUpsert{
		{ID: "ea", EpisodeID: "ep1", SourceID: "a1", TargetID: "a2", Type: "USES"},
	}))

	deleted, err := store.DeleteByEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	// Edge detached along with its endpoints.
	assert.Equal(t, 0, store.EdgeCount())

	// Other episode untouched.
	count, err := store.CountByEpisode(ctx, "ep2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_FailInjectionLeavesPartialWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.FailNodesAfter = 2
	store.FailErr = errors.New("connection reset")

	nodes := []NodeUpsert{
		{ID: "n1", EpisodeID: "ep1", Label: "Entity"},
		{ID: "n2", EpisodeID: "ep1", Label: "Entity"},
		{ID: "n3", EpisodeID: "ep1", Label: "Entity"},
		{ID: "n4", EpisodeID: "ep1", Label: "Entity"},
		{ID: "n5", EpisodeID: "ep1", Label: "Entity"},
	}

	err := store.UpsertNodes(ctx, nodes)
	require.Error(t, err)
	assert.Equal(t, 2, store.NodeCount())
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Entity", "Entity"},
		{"WORKS_AT", "WORKS_AT"},
		{"works at", "works_at"},
		{"co-founder", "co_founder"},
		{"MATCH (n) DETACH DELETE n", "MATCH_n_DETACH_DELETE_n"},
		{"", "Unknown"},
		{"123abc", "_123abc"},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
