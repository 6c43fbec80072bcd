package domain

import "errors"

var (
	// ErrNoUserMessage signals a conversation without a usable user message.
	ErrNoUserMessage = errors.New("no user message found")
	// ErrNoValidChunks signals an ingestion request where every chunk was blank.
	ErrNoValidChunks = errors.New("no valid chunks to upload")
	// ErrIndexNameMissing signals missing vector index configuration.
	ErrIndexNameMissing = errors.New("index name is not configured")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrIndexProviderError signals a vector index provider failure.
	ErrIndexProviderError = errors.New("vector index provider error")
	// ErrCompletionProviderError signals a completion provider failure.
	ErrCompletionProviderError = errors.New("completion provider error")
)
