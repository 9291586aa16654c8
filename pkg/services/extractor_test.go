package services

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/apperrors"
	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
)

func testEpisode(segmentTexts ...string) *models.Episode {
	episode := &models.Episode{ID: "ep1", Title: "Test Episode"}
	for i, text := range segmentTexts {
		episode.Segments = append(episode.Segments, models.Segment{
			ID:        fmt.Sprintf("seg%d", i+1),
			EpisodeID: "ep1",
			Index:     i,
			Start:     float64(i * 30),
			End:       float64((i + 1) * 30),
			Speaker:   "Speaker 0",
			Text:      text,
		})
	}
	return episode
}

// stubStrategy lets tests script per-segment extraction outcomes.
type stubStrategy struct {
	calls   atomic.Int32
	perCall func(segment *models.Segment) (*ExtractionResult, error)
}

func (s *stubStrategy) ExtractSegment(ctx context.Context, episode *models.Episode, segment *models.Segment) (*ExtractionResult, error) {
	s.calls.Add(1)
	return s.perCall(segment)
}

func entityResult(segment *models.Segment, names ...string) *ExtractionResult {
	result := &ExtractionResult{}
	for _, name := range names {
		result.Entities = append(result.Entities, models.CandidateEntity{
			ID:           name + segment.ID,
			Name:         name,
			Type:         "concept",
			EpisodeID:    segment.EpisodeID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
			MentionedAt:  segment.Start,
			Confidence:   0.9,
		})
	}
	return result
}

func TestExtractEpisode_AbsorbsMalformedSegments(t *testing.T) {
	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		if segment.Index == 0 {
			return nil, llm.NewError(llm.ErrorTypeResponse, "malformed response", false, nil)
		}
		return entityResult(segment, "Kubernetes"), nil
	}}

	extractor := NewKnowledgeExtractor(strategy, zap.NewNop())
	metrics := NewMetrics("ep1")

	result, err := extractor.ExtractEpisode(context.Background(), testEpisode("bad", "good"), metrics)
	require.NoError(t, err, "one bad segment must not fail the episode")
	assert.Len(t, result.Entities, 1)
	assert.Equal(t, 1, metrics.SegmentsFailed)
	assert.Equal(t, 1, metrics.SegmentsExtracted)
}

func TestExtractEpisode_AllSegmentsFailedIsEpisodeFailure(t *testing.T) {
	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return nil, llm.NewError(llm.ErrorTypeResponse, "malformed response", false, nil)
	}}

	extractor := NewKnowledgeExtractor(strategy, zap.NewNop())

	_, err := extractor.ExtractEpisode(context.Background(), testEpisode("a", "b", "c"), NewMetrics("ep1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExtractionFailed)
}

func TestExtractEpisode_TransportFailurePropagates(t *testing.T) {
	strategy := &stubStrategy{perCall: func(segment *models.Segment) (*ExtractionResult, error) {
		return nil, llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, nil)
	}}

	extractor := NewKnowledgeExtractor(strategy, zap.NewNop())

	_, err := extractor.ExtractEpisode(context.Background(), testEpisode("a", "b"), NewMetrics("ep1"))
	require.Error(t, err)
	// The failure surfaces immediately, without trying the remaining segments.
	assert.Equal(t, int32(1), strategy.calls.Load())
}

func TestLLMExtractionStrategy_ParsesResponse(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		assert.Contains(t, prompt, "[episode:ep1]")
		assert.Contains(t, prompt, "[segment:0")
		return `{"entities": [{"name": "Kubernetes", "type": "technology", "confidence": 0.92}],
			"relationships": [{"source": "Google", "target": "Kubernetes", "type": "created", "confidence": 0.8}],
			"quote_candidates": [{"text": "containers changed everything", "speaker": "Speaker 0"}]}`, nil
	}

	strategy := NewLLMExtractionStrategy(mock, NewSegmentPreprocessor(false, zap.NewNop()), time.Minute, zap.NewNop())

	episode := testEpisode("Google created Kubernetes. Containers changed everything.")
	result, err := strategy.ExtractSegment(context.Background(), episode, &episode.Segments[0])
	require.NoError(t, err)

	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Kubernetes", result.Entities[0].Name)
	assert.Equal(t, 0.92, result.Entities[0].Confidence)
	assert.Equal(t, "seg1", result.Entities[0].SegmentID)

	require.Len(t, result.Relationships, 1)
	assert.Equal(t, "created", result.Relationships[0].Type)

	require.Len(t, result.QuoteCandidates, 1)
	assert.Equal(t, "containers changed everything", result.QuoteCandidates[0].Text)
}

func TestLLMExtractionStrategy_MalformedResponseClassified(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return "I could not find any entities, sorry!", nil
	}

	strategy := NewLLMExtractionStrategy(mock, NewSegmentPreprocessor(false, zap.NewNop()), time.Minute, zap.NewNop())

	episode := testEpisode("some text")
	_, err := strategy.ExtractSegment(context.Background(), episode, &episode.Segments[0])
	require.Error(t, err)
	assert.Equal(t, llm.ErrorTypeResponse, llm.GetErrorType(err))
}

func TestLLMExtractionStrategy_SkipsBlankEntities(t *testing.T) {
	mock := llm.NewMockLLMClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		return `{"entities": [{"name": "", "type": "x"}, {"name": "Go", "type": "technology"}],
			"relationships": [], "quote_candidates": []}`, nil
	}

	strategy := NewLLMExtractionStrategy(mock, NewSegmentPreprocessor(false, zap.NewNop()), time.Minute, zap.NewNop())

	episode := testEpisode("Go is nice")
	result, err := strategy.ExtractSegment(context.Background(), episode, &episode.Segments[0])
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Go", result.Entities[0].Name)
	// Missing confidence gets the default.
	assert.Equal(t, defaultCandidateConfidence, result.Entities[0].Confidence)
	assert.False(t, strings.Contains(result.Entities[0].ID, " "))
}
