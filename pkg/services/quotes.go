package services

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/logging"
	"github.com/podgraph-inc/podgraph-engine/pkg/models"
	"github.com/podgraph-inc/podgraph-engine/pkg/rules"
)

var (
	straightQuotePattern = regexp.MustCompile(`"([^"]+)"`)
	curlyQuotePattern    = regexp.MustCompile(`\x{201C}([^\x{201D}]+)\x{201D}`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// assertionMarkers are lexical signals of assertion or opinion used both for
// candidate detection and importance scoring.
var assertionMarkers = []string{
	"i think",
	"i believe",
	"in my experience",
	"the key",
	"the truth",
	"the problem is",
	"the biggest",
	"you have to",
	"most important",
	"always",
	"never",
}

// QuoteExtractor mines attributable quotes from segment text, validates them
// against their source, scores importance, and links them to resolved
// entities. Quotes that fail validation are discarded rather than stored with
// unverifiable provenance.
type QuoteExtractor struct {
	rules  *rules.RuleSet
	logger *zap.Logger
}

// NewQuoteExtractor creates a quote extractor over the given rule set.
func NewQuoteExtractor(rs *rules.RuleSet, logger *zap.Logger) *QuoteExtractor {
	return &QuoteExtractor{
		rules:  rs,
		logger: logger.Named("quote-extractor"),
	}
}

// ExtractQuotes combines pattern-detected candidates with extractor-provided
// ones, validates every candidate against its claimed source segment, filters
// by importance, and attributes speakers against the canonical entity set.
func (q *QuoteExtractor) ExtractQuotes(
	episode *models.Episode,
	extractorCandidates []models.QuoteCandidate,
	canonical []models.CanonicalEntity,
	metrics *Metrics,
) []models.Quote {
	segments := make(map[string]*models.Segment, len(episode.Segments))
	for i := range episode.Segments {
		segments[episode.Segments[i].ID] = &episode.Segments[i]
	}

	candidates := q.patternCandidates(episode)
	candidates = append(candidates, extractorCandidates...)
	if metrics != nil {
		metrics.QuoteCandidates = len(candidates)
	}

	var quotes []models.Quote
	seen := make(map[string]bool)

	for _, cand := range candidates {
		segment, ok := segments[cand.SegmentID]
		if !ok {
			continue
		}

		text := strings.TrimSpace(cand.Text)
		if len(text) < q.rules.Quotes.MinLength || len(text) > q.rules.Quotes.MaxLength {
			continue
		}

		if !validateAgainstSource(text, segment.Text) {
			q.logger.Debug("Quote failed source validation, discarding",
				zap.String("segment_id", cand.SegmentID),
				zap.String("text", logging.TruncateString(text, 60)))
			continue
		}
		if metrics != nil {
			metrics.QuotesValidated++
		}

		label := cand.SpeakerLabel
		if label == "" {
			label = segment.Speaker
		}
		speakerLabel, speakerEntityID := q.attributeSpeaker(label, canonical)

		importance := q.scoreImportance(text, speakerEntityID != "")
		if importance < q.rules.Quotes.ImportanceThreshold {
			continue
		}

		id := models.QuoteIdentityKey(episode.ID, cand.SegmentID, text)
		if seen[id] {
			continue
		}
		seen[id] = true

		quotes = append(quotes, models.Quote{
			ID:              id,
			EpisodeID:       episode.ID,
			SegmentID:       cand.SegmentID,
			Text:            text,
			SpeakerLabel:    speakerLabel,
			SpeakerEntityID: speakerEntityID,
			Importance:      importance,
			MentionedAt:     segment.Start,
		})
	}

	if metrics != nil {
		metrics.QuotesStored = len(quotes)
	}
	return quotes
}

// patternCandidates detects quoted spans and assertion-marker sentences within
// the configured length bounds.
func (q *QuoteExtractor) patternCandidates(episode *models.Episode) []models.QuoteCandidate {
	var out []models.QuoteCandidate

	add := func(segment *models.Segment, text string) {
		text = strings.TrimSpace(text)
		if len(text) < q.rules.Quotes.MinLength || len(text) > q.rules.Quotes.MaxLength {
			return
		}
		out = append(out, models.QuoteCandidate{
			Text:         text,
			SpeakerLabel: segment.Speaker,
			EpisodeID:    segment.EpisodeID,
			SegmentID:    segment.ID,
			SegmentIndex: segment.Index,
		})
	}

	for i := range episode.Segments {
		segment := &episode.Segments[i]

		for _, m := range straightQuotePattern.FindAllStringSubmatch(segment.Text, -1) {
			add(segment, m[1])
		}
		for _, m := range curlyQuotePattern.FindAllStringSubmatch(segment.Text, -1) {
			add(segment, m[1])
		}

		for _, sentence := range splitSentences(segment.Text) {
			if containsAssertionMarker(sentence) {
				add(segment, sentence)
			}
		}
	}

	return out
}

// validateAgainstSource checks that the quote text appears in the claimed
// segment, verbatim or after whitespace normalization.
func validateAgainstSource(quote, segmentText string) bool {
	if strings.Contains(segmentText, quote) {
		return true
	}
	normQuote := normalizeWhitespace(quote)
	normSegment := normalizeWhitespace(segmentText)
	return strings.Contains(normSegment, normQuote)
}

func normalizeWhitespace(s string) string {
	return whitespacePattern.ReplaceAllString(strings.TrimSpace(s), " ")
}

// scoreImportance is the weighted heuristic from the rule set: normalized
// length, assertion markers, and speaker attribution, producing a 0-1 score.
func (q *QuoteExtractor) scoreImportance(text string, attributed bool) float64 {
	w := q.rules.Quotes.Weights

	lengthRange := float64(q.rules.Quotes.MaxLength - q.rules.Quotes.MinLength)
	lengthScore := 0.0
	if lengthRange > 0 {
		lengthScore = float64(len(text)-q.rules.Quotes.MinLength) / lengthRange
		if lengthScore > 1 {
			lengthScore = 1
		}
		if lengthScore < 0 {
			lengthScore = 0
		}
	}

	assertionScore := 0.0
	if containsAssertionMarker(text) {
		assertionScore = 1
	}

	attributionScore := 0.0
	if attributed {
		attributionScore = 1
	}

	score := w.Length*lengthScore + w.Assertion*assertionScore + w.Attribution*attributionScore
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

// attributeSpeaker resolves a raw speaker label against the canonical entity
// set. Unresolved speakers get the unknown-speaker sentinel rather than
// failing the quote.
func (q *QuoteExtractor) attributeSpeaker(label string, canonical []models.CanonicalEntity) (string, string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return models.UnknownSpeaker, ""
	}

	for _, entity := range canonical {
		if strings.EqualFold(entity.Name, label) {
			return entity.Name, entity.ID
		}
		for _, alias := range entity.Aliases {
			if strings.EqualFold(alias, label) {
				return entity.Name, entity.ID
			}
		}
	}

	return models.UnknownSpeaker, ""
}

func containsAssertionMarker(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range assertionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			sentence := strings.TrimSpace(s[start : i+1])
			if sentence != "" {
				out = append(out, sentence)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
