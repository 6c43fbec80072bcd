package ingest

import (
	"context"

	"github.com/fortuspay/supportkb/internal/domain"
)

// Embedder vectorizes passage text before indexing.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorIndex persists embedded knowledge chunks.
type VectorIndex interface {
	Upsert(ctx context.Context, vectors []domain.IndexedVector) (int, error)
}
