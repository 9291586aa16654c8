package graph

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory GraphStore for tests and dry runs. The
// Fail*After fields inject partial-write failures: a value of N means the
// batch call writes N items and then returns FailErr, leaving the store in a
// partially committed state.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[string]NodeUpsert
	edges map[string]EdgeUpsert

	FailNodesAfter int // -1 disables node fail injection
	FailEdgesAfter int // -1 disables edge fail injection
	FailErr        error

	DeleteErr error // Returned by DeleteByEpisode when set
	CountErr  error // Returned by CountByEpisode when set

	nodeWrites int
	edgeWrites int
}

var _ GraphStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store with fail injection disabled.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:          make(map[string]NodeUpsert),
		edges:          make(map[string]EdgeUpsert),
		FailNodesAfter: -1,
		FailEdgesAfter: -1,
	}
}

func (s *MemoryStore) UpsertNodes(ctx context.Context, nodes []NodeUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range nodes {
		if s.FailNodesAfter >= 0 && s.nodeWrites >= s.FailNodesAfter {
			return s.failErr()
		}
		s.nodes[n.ID] = n
		s.nodeWrites++
	}
	return nil
}

func (s *MemoryStore) UpsertEdges(ctx context.Context, edges []EdgeUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range edges {
		if s.FailEdgesAfter >= 0 && s.edgeWrites >= s.FailEdgesAfter {
			return s.failErr()
		}
		// Endpoints must exist, matching the MATCH semantics of the real store.
		if _, ok := s.nodes[e.SourceID]; !ok {
			continue
		}
		if _, ok := s.nodes[e.TargetID]; !ok {
			continue
		}
		s.edges[e.ID] = e
		s.edgeWrites++
	}
	return nil
}

func (s *MemoryStore) DeleteByEpisode(ctx context.Context, episodeID string) (int64, error) {
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.nodes {
		if n.EpisodeID == episodeID {
			delete(s.nodes, id)
			deleted++
		}
	}
	for id, e := range s.edges {
		if e.EpisodeID == episodeID {
			delete(s.edges, id)
			continue
		}
		// Detach: edges whose endpoints were deleted go too.
		if _, ok := s.nodes[e.SourceID]; !ok {
			delete(s.edges, id)
			continue
		}
		if _, ok := s.nodes[e.TargetID]; !ok {
			delete(s.edges, id)
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CountByEpisode(ctx context.Context, episodeID string) (int64, error) {
	if s.CountErr != nil {
		return 0, s.CountErr
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, n := range s.nodes {
		if n.EpisodeID == episodeID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) failErr() error {
	if s.FailErr != nil {
		return s.FailErr
	}
	return errInjectedFailure
}

// Node returns the stored node and whether it exists.
func (s *MemoryStore) Node(id string) (NodeUpsert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Edge returns the stored edge and whether it exists.
func (s *MemoryStore) Edge(id string) (EdgeUpsert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[id]
	return e, ok
}

// NodeCount returns the total number of stored nodes across all episodes.
func (s *MemoryStore) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the total number of stored edges across all episodes.
func (s *MemoryStore) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

type injectedFailure struct{}

func (injectedFailure) Error() string { return "injected store failure" }

var errInjectedFailure = injectedFailure{}
