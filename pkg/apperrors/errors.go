package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrExtractionFailed   = errors.New("extraction failed for every segment")
	ErrCommitFailed       = errors.New("episode commit failed")
	ErrRollbackIncomplete = errors.New("rollback verification found surviving episode objects")
	ErrShuttingDown       = errors.New("pipeline is shutting down")
	ErrEmbeddingsDisabled = errors.New("embedding enrichment is not enabled")
)
