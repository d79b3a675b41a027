package reindex

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrKnowledgeBoxNotFound is returned when the knowledge box to reindex does not exist
	ErrKnowledgeBoxNotFound = errors.New("knowledge box not found")
)
