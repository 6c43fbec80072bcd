package answer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fortuspay/supportkb/internal/domain"
	"github.com/fortuspay/supportkb/internal/logger"
	"github.com/fortuspay/supportkb/internal/metrics"
)

// Service drives the retrieval-augmented answer pipeline:
// embed the latest user question, retrieve nearest knowledge passages,
// assemble a bounded context, build the grounded prompt and complete it.
type Service struct {
	embedder    Embedder
	index       VectorIndex
	completer   Completer
	prompt      *PromptBuilder
	topK        int
	threshold   float64
	maxPassages int
	emptyAnswer string
}

// New creates an answer service with default retrieval settings.
func New(embedder Embedder, index VectorIndex, completer Completer, prompt *PromptBuilder) *Service {
	return &Service{
		embedder:    embedder,
		index:       index,
		completer:   completer,
		prompt:      prompt,
		topK:        5,
		threshold:   0.4,
		maxPassages: 5,
		emptyAnswer: "Inget svar från AI (tom context).",
	}
}

// WithRetrieval configures retrieval tuning knobs.
func (s *Service) WithRetrieval(topK int, threshold float64, maxPassages int) *Service {
	if topK > 0 {
		s.topK = topK
	}
	if threshold > 0 {
		s.threshold = threshold
	}
	if maxPassages > 0 {
		s.maxPassages = maxPassages
	}
	return s
}

// WithEmptyAnswer configures the placeholder returned when the model
// produces no content.
func (s *Service) WithEmptyAnswer(placeholder string) *Service {
	if placeholder != "" {
		s.emptyAnswer = placeholder
	}
	return s
}

// Answer produces a grounded reply to the conversation's latest user message.
// A history without a usable user message fails with domain.ErrNoUserMessage
// before any provider is contacted.
func (s *Service) Answer(ctx context.Context, history []domain.Message) (string, error) {
	log := logger.FromContext(ctx)

	query, err := domain.LastUserMessage(history)
	if err != nil {
		return "", err
	}

	embResult, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("vectorize query: %w", err)
	}

	matches, err := s.index.Query(ctx, embResult.Embedding, s.topK)
	if err != nil {
		return "", fmt.Errorf("query index: %w", err)
	}

	kept := 0
	for _, m := range matches {
		if m.Score > s.threshold {
			kept++
		}
	}
	metrics.RetrievedMatchesTotal.WithLabelValues("kept").Add(float64(kept))
	metrics.RetrievedMatchesTotal.WithLabelValues("filtered").Add(float64(len(matches) - kept))

	assembled := AssembleContext(matches, s.threshold, s.maxPassages)

	log.Debug("retrieved context",
		zap.Int("matches", len(matches)),
		zap.Int("above_threshold", kept),
		zap.Int("context_length", len(assembled)),
	)

	reply, err := s.completer.Complete(ctx, s.prompt.Build(assembled, history))
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}

	// An empty completion must never be surfaced as a silent success.
	if strings.TrimSpace(reply) == "" {
		log.Warn("completion returned no content, using placeholder")
		return s.emptyAnswer, nil
	}

	return reply, nil
}
