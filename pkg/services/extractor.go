package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/apperrors"
	"github.com/podgraph-inc/podgraph-engine/pkg/llm"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/retry"
)

const extractionSystemMessage = `You are a knowledge extraction engine for podcast transcripts.
Given one transcript segment with inline context markers, extract:
- entities: named things discussed (people, companies, technologies, concepts), with a free-form type string and a confidence between 0 and 1
- relationships: directed connections between extracted entities, with a short free-text type like "works at" or "founded"
- quote_candidates: notable verbatim statements worth attributing to a speaker

Respond with a single JSON object and nothing else:
{"entities": [{"name": "...", "type": "...", "confidence": 0.0}],
 "relationships": [{"source": "...", "target": "...", "type": "...", "confidence": 0.0}],
 "quote_candidates": [{"text": "...", "speaker": "..."}]}

Entity names must appear in the segment text. Quote candidate text must be copied verbatim.`

const defaultCandidateConfidence = 0.7

// extractionPayload is the JSON shape the extraction prompt requests.
type extractionPayload struct {
	Entities []struct {
		Name       string  `json:"name"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
	Relationships []struct {
		Source     string  `json:"source"`
		Target     string  `json:"target"`
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	} `json:"relationships"`
	QuoteCandidates []struct {
		Text    string `json:"text"`
		Speaker string `json:"speaker"`
	} `json:"quote_candidates"`
}

// ExtractionResult holds the candidate objects produced for one segment or
// aggregated for one episode.
type ExtractionResult struct {
	Entities        []models.CandidateEntity
	Relationships   []models.CandidateRelationship
	QuoteCandidates []models.QuoteCandidate
}

func (r *ExtractionResult) merge(other *ExtractionResult) {
	r.Entities = append(r.Entities, other.Entities...)
	r.Relationships = append(r.Relationships, other.Relationships...)
	r.QuoteCandidates = append(r.QuoteCandidates, other.QuoteCandidates...)
}

// ExtractionStrategy is the boundary to the knowledge extractor. One
// implementation exists (LLM extraction); the interface keeps the pipeline
// testable without a live provider.
type ExtractionStrategy interface {
	ExtractSegment(ctx context.Context, episode *models.Episode, segment *models.Segment) (*ExtractionResult, error)
}

// LLMExtractionStrategy extracts candidates by prompting an LLM once per
// segment, with retry, circuit breaking, and a per-call timeout.
type LLMExtractionStrategy struct {
	client       llm.LLMClient
	preprocessor *SegmentPreprocessor
	breaker      *llm.CircuitBreaker
	retryConfig  *retry.Config
	callTimeout  time.Duration
	temperature  float64
	logger       *zap.Logger
}

var _ ExtractionStrategy = (*LLMExtractionStrategy)(nil)

// NewLLMExtractionStrategy creates the LLM-backed extraction strategy.
func NewLLMExtractionStrategy(
	client llm.LLMClient,
	preprocessor *SegmentPreprocessor,
	callTimeout time.Duration,
	logger *zap.Logger,
) *LLMExtractionStrategy {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &LLMExtractionStrategy{
		client:       client,
		preprocessor: preprocessor,
		breaker:      llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig()),
		retryConfig:  retry.ExtractionConfig(),
		callTimeout:  callTimeout,
		temperature:  0.2,
		logger:       logger.Named("llm-extraction"),
	}
}

// ExtractSegment prompts the LLM for one segment and parses the response into
// candidate objects. Malformed responses surface as a classified response
// error so the caller can absorb them without failing the episode.
func (s *LLMExtractionStrategy) ExtractSegment(ctx context.Context, episode *models.Episode, segment *models.Segment) (*ExtractionResult, error) {
	if allowed, err := s.breaker.Allow(); !allowed {
		return nil, err
	}

	prompt := s.preprocessor.Enrich(episode, segment)

	var response string
	err := retry.DoIfRetryable(ctx, s.retryConfig, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()

		var callErr error
		response, callErr = s.client.GenerateResponse(callCtx, prompt, extractionSystemMessage, s.temperature)
		return callErr
	})
	if err != nil {
		s.breaker.RecordFailure()
		return nil, fmt.Errorf("extraction call for segment %s: %w", segment.ID, err)
	}
	s.breaker.RecordSuccess()

	payload, err := llm.ParseJSONResponse[extractionPayload](response)
	if err != nil {
		return nil, llm.NewError(llm.ErrorTypeResponse,
			fmt.Sprintf("malformed extraction response for segment %s", segment.ID), false, err)
	}

	return s.buildResult(segment, &payload), nil
}

func (s *LLMExtractionStrategy) buildResult(segment *models.Segment, payload *extractionPayload) *ExtractionResult {
	result := &ExtractionResult{}

	for _, e := range payload.Entities {
		if e.Name == "" {
			continue
		}
		conf := e.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultCandidateConfidence
		}
		result.Entities = append(result.Entities, models.CandidateEntity{
			ID:           uuid.NewString(),
			Name:         e.Name,
			Type:         e.Type,
			EpisodeID:    segment.EpisodeID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
			MentionedAt:  segment.Start,
			Confidence:   conf,
		})
	}

	for _, r := range payload.Relationships {
		if r.Source == "" || r.Target == "" || r.Type == "" {
			continue
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultCandidateConfidence
		}
		result.Relationships = append(result.Relationships, models.CandidateRelationship{
			SourceName:   r.Source,
			TargetName:   r.Target,
			Type:         r.Type,
			EpisodeID:    segment.EpisodeID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
			Confidence:   conf,
		})
	}

	for _, q := range payload.QuoteCandidates {
		if q.Text == "" {
			continue
		}
		result.QuoteCandidates = append(result.QuoteCandidates, models.QuoteCandidate{
			Text:         q.Text,
			SpeakerLabel: q.Speaker,
			EpisodeID:    segment.EpisodeID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
		})
	}

	return result
}

// KnowledgeExtractor runs the extraction strategy over every segment of an
// episode in transcript order. A malformed response for one segment is
// absorbed as zero candidates; a transport failure after retries, or every
// segment failing, fails the episode.
type KnowledgeExtractor struct {
	strategy ExtractionStrategy
	logger   *zap.Logger
}

// NewKnowledgeExtractor creates an extractor over the given strategy.
func NewKnowledgeExtractor(strategy ExtractionStrategy, logger *zap.Logger) *KnowledgeExtractor {
	return &KnowledgeExtractor{
		strategy: strategy,
		logger:   logger.Named("knowledge-extractor"),
	}
}

// ExtractEpisode processes segments in transcript order, which the temporal
// first-mention metadata downstream depends on.
func (e *KnowledgeExtractor) ExtractEpisode(ctx context.Context, episode *models.Episode, metrics *Metrics) (*ExtractionResult, error) {
	aggregate := &ExtractionResult{}
	metrics.SegmentCount = len(episode.Segments)

	for i := range episode.Segments {
		segment := &episode.Segments[i]

		result, err := e.strategy.ExtractSegment(ctx, episode, segment)
		if err != nil {
			if llm.GetErrorType(err) == llm.ErrorTypeResponse {
				// One bad segment does not fail the episode.
				e.logger.Warn("Malformed extraction response, treating as zero candidates",
					zap.String("episode_id", episode.ID),
					zap.String("segment_id", segment.ID),
					zap.Error(err))
				metrics.SegmentsFailed++
				continue
			}
			return nil, fmt.Errorf("segment %s extraction: %w", segment.ID, err)
		}

		aggregate.merge(result)
		metrics.SegmentsExtracted++
	}

	if metrics.SegmentsExtracted == 0 && len(episode.Segments) > 0 {
		return nil, fmt.Errorf("all %d segments failed for episode %s: %w",
			len(episode.Segments), episode.ID, apperrors.ErrExtractionFailed)
	}

	// QuoteCandidates is owned by the quote stage, which counts pattern and
	// extractor candidates together.
	metrics.CandidateEntities = len(aggregate.Entities)
	metrics.CandidateRelationships = len(aggregate.Relationships)

	e.logger.Debug("Episode extraction complete",
		zap.String("episode_id", episode.ID),
		zap.Int("entities", len(aggregate.Entities)),
		zap.Int("relationships", len(aggregate.Relationships)),
		zap.Int("quote_candidates", len(aggregate.QuoteCandidates)))

	return aggregate, nil
}
