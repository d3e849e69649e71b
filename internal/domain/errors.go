package domain

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is.
var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks malformed addresses, hashes or configuration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDetectorFailure marks a detector that failed during a run.
	ErrDetectorFailure = errors.New("detector failure")

	// ErrPersistence marks a failed store write.
	ErrPersistence = errors.New("persistence failure")

	// ErrUpstreamIngestion marks a malformed or unauthorized chain event.
	ErrUpstreamIngestion = errors.New("upstream ingestion failure")
)
