package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fortuspay/supportkb/internal/domain"
	"github.com/fortuspay/supportkb/internal/logger"
)

// Service embeds knowledge chunks and upserts them into the vector index
// in a single batch. Chunks whose text is blank after trimming are skipped
// and never indexed.
type Service struct {
	embedder   Embedder
	index      VectorIndex
	dimensions int
	newID      func() string
}

// New creates an ingestion service. dimensions, when positive, is enforced
// against every produced embedding so a misconfigured model fails the whole
// batch instead of poisoning the index.
func New(embedder Embedder, index VectorIndex, dimensions int) *Service {
	return &Service{
		embedder:   embedder,
		index:      index,
		dimensions: dimensions,
		newID:      uuid.NewString,
	}
}

// Ingest embeds every non-blank chunk and upserts the batch, returning the
// number of vectors the index reports as stored.
func (s *Service) Ingest(ctx context.Context, chunks []domain.KnowledgeChunk) (int, error) {
	log := logger.FromContext(ctx)

	valid := make([]domain.KnowledgeChunk, 0, len(chunks))
	for _, c := range chunks {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		valid = append(valid, domain.KnowledgeChunk{Keyword: strings.TrimSpace(c.Keyword), Text: text})
	}
	if len(valid) == 0 {
		return 0, domain.ErrNoValidChunks
	}

	texts := make([]string, len(valid))
	for i, c := range valid {
		texts[i] = c.Text
	}

	batch, err := s.batchEmbed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("vectorize chunks: %w", err)
	}
	if len(batch.Embeddings) != len(valid) {
		return 0, fmt.Errorf("%w: expected %d embeddings, got %d",
			domain.ErrEmbeddingProviderError, len(valid), len(batch.Embeddings))
	}

	vectors := make([]domain.IndexedVector, len(valid))
	for i, c := range valid {
		vec := batch.Embeddings[i]
		if s.dimensions > 0 && len(vec) != s.dimensions {
			return 0, fmt.Errorf("%w: chunk %q produced %d dimensions, index expects %d",
				domain.ErrVectorDimMismatch, c.Keyword, len(vec), s.dimensions)
		}
		vectors[i] = domain.IndexedVector{
			ID:       s.newID(),
			Values:   vec,
			Metadata: domain.ChunkMetadata{Keyword: c.Keyword, Text: c.Text},
		}
	}

	count, err := s.index.Upsert(ctx, vectors)
	if err != nil {
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}

	log.Info("ingested knowledge chunks",
		zap.Int("received", len(chunks)),
		zap.Int("skipped", len(chunks)-len(valid)),
		zap.Int("uploaded", count),
		zap.Int("prompt_tokens", batch.PromptTokens),
	)

	return count, nil
}

func (s *Service) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := s.embedder.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.embedder, texts)
}
