package answer

import (
	"context"

	"github.com/fortuspay/supportkb/internal/domain"
)

// Embedder vectorizes the user query (query-mode instruction already applied).
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

// VectorIndex answers top-K similarity queries with metadata attached.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]domain.Match, error)
}

// Completer generates the grounded reply from the message sequence.
type Completer interface {
	Complete(ctx context.Context, messages []domain.Message) (string, error)
}
