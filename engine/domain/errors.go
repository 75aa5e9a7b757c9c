package domain

import "errors"

// Sentinel errors for the retrieval engine. Callers must be able to tell
// "no relevant documents" (an empty result, never an error) apart from the
// infrastructure and configuration failures below.
var (
	// ErrInvalidConfig marks bad chunking or collection parameters.
	// Raised before any I/O happens.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingUnavailable marks an unreachable or rejecting embedding
	// backend. Retryable at the caller's discretion; ingestion skips the
	// affected document, retrieval surfaces it immediately.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSchemaMismatch marks an existing collection whose vector dimension
	// differs from the embedder's.
	ErrSchemaMismatch = errors.New("collection schema mismatch")

	// ErrModelMismatch marks an index built with a different embedding
	// model. Similarity scores across models are meaningless, so this is
	// never ignored.
	ErrModelMismatch = errors.New("embedding model mismatch")

	// ErrIndexUnavailable marks a vector index connection failure after
	// transport-level retries were exhausted.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
