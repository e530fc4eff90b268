package model

import "errors"

var (
	// ErrEmbedding is returned when a text cannot be turned into a vector.
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmbedderUnavailable marks transient embedding provider failures that may be retried.
	ErrEmbedderUnavailable = errors.New("embedder unavailable")
	// ErrIndexUnavailable marks transient index failures that may be retried.
	ErrIndexUnavailable = errors.New("similarity index unavailable")
	// ErrIndexCorrupt marks an index entry whose stored data cannot be read.
	ErrIndexCorrupt = errors.New("similarity index entry corrupt")
	// ErrStorageWrite is returned for writes that failed after all retries.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrNotification is returned when a digest could not be delivered.
	ErrNotification = errors.New("notification failed")
)
