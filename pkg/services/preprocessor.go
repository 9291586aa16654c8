package services

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/podgraph-inc/podgraph-engine/pkg/models"
)

// SegmentPreprocessor enriches raw segment text with inline contextual markers
// before it is handed to the extractor. The markers give the LLM temporal and
// speaker context without a separate metadata channel.
type SegmentPreprocessor struct {
	dryRun bool
	logger *zap.Logger
}

// NewSegmentPreprocessor creates a preprocessor. In dry-run mode Enrich reports
// what it would inject without mutating the text.
func NewSegmentPreprocessor(dryRun bool, logger *zap.Logger) *SegmentPreprocessor {
	return &SegmentPreprocessor{
		dryRun: dryRun,
		logger: logger.Named("segment-preprocessor"),
	}
}

// Markers returns the contextual marker prefix for a segment.
func (p *SegmentPreprocessor) Markers(episode *models.Episode, segment *models.Segment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[episode:%s]", episode.ID)
	fmt.Fprintf(&b, " [segment:%d t=%.1f-%.1f]", segment.Index, segment.Start, segment.End)
	if speaker := strings.TrimSpace(segment.Speaker); speaker != "" {
		fmt.Fprintf(&b, " [speaker:%s]", speaker)
	}
	return b.String()
}

// Enrich returns the segment text with inline markers prepended. In dry-run
// mode the original text is returned unchanged and the would-be markers are
// logged instead.
func (p *SegmentPreprocessor) Enrich(episode *models.Episode, segment *models.Segment) string {
	markers := p.Markers(episode, segment)

	if p.dryRun {
		p.logger.Info("Dry run: would inject markers",
			zap.String("episode_id", episode.ID),
			zap.String("segment_id", segment.ID),
			zap.String("markers", markers))
		return segment.Text
	}

	return markers + " " + segment.Text
}
