package answer

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/fortuspay/supportkb/internal/domain"
	"github.com/fortuspay/supportkb/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.RegisterProviderMetrics()
	os.Exit(m.Run())
}

// --- Mocks ---

type mockEmbedder struct {
	vec      []float32
	err      error
	calls    int
	lastText string
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	m.lastText = text
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return domain.EmbeddingResult{Embedding: m.vec}, nil
}

type mockIndex struct {
	matches  []domain.Match
	err      error
	calls    int
	lastTopK int
	lastVec  []float32
}

func (m *mockIndex) Query(_ context.Context, vector []float32, topK int) ([]domain.Match, error) {
	m.calls++
	m.lastVec = vector
	m.lastTopK = topK
	return m.matches, m.err
}

type mockCompleter struct {
	reply    string
	err      error
	calls    int
	lastMsgs []domain.Message
}

func (m *mockCompleter) Complete(_ context.Context, messages []domain.Message) (string, error) {
	m.calls++
	m.lastMsgs = messages
	return m.reply, m.err
}

func newTestService(emb *mockEmbedder, idx *mockIndex, comp *mockCompleter) *Service {
	return New(emb, idx, comp, testPromptBuilder())
}

func userMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content}
}

// --- Tests ---

func TestAnswer_NoUserMessage(t *testing.T) {
	emb := &mockEmbedder{}
	idx := &mockIndex{}
	comp := &mockCompleter{}
	svc := newTestService(emb, idx, comp)

	histories := [][]domain.Message{
		nil,
		{{Role: domain.RoleAssistant, Content: "hi"}},
		{{Role: domain.RoleUser, Content: "   "}},
	}

	for _, history := range histories {
		_, err := svc.Answer(context.Background(), history)
		if !errors.Is(err, domain.ErrNoUserMessage) {
			t.Fatalf("expected ErrNoUserMessage, got %v", err)
		}
	}

	if emb.calls != 0 || idx.calls != 0 || comp.calls != 0 {
		t.Errorf("expected no adapter calls, got embed=%d index=%d complete=%d",
			emb.calls, idx.calls, comp.calls)
	}
}

func TestAnswer_EndToEnd(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	idx := &mockIndex{matches: []domain.Match{
		{ID: "a", Score: 0.8, Metadata: domain.ChunkMetadata{Text: "Step 1: go to settings"}},
		{ID: "b", Score: 0.2, Metadata: domain.ChunkMetadata{Text: "unrelated"}},
	}}
	comp := &mockCompleter{reply: "Go to Settings > Reset Password."}
	svc := newTestService(emb, idx, comp)

	answer, err := svc.Answer(context.Background(), []domain.Message{
		userMsg("How do I reset my password?"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if answer != "Go to Settings > Reset Password." {
		t.Errorf("unexpected answer: %q", answer)
	}
	if emb.lastText != "How do I reset my password?" {
		t.Errorf("expected latest user message embedded, got %q", emb.lastText)
	}
	if idx.lastTopK != 5 {
		t.Errorf("expected topK=5, got %d", idx.lastTopK)
	}
	if len(idx.lastVec) != 3 {
		t.Errorf("expected query vector passed through, got %v", idx.lastVec)
	}

	system := comp.lastMsgs[0].Content
	if !strings.Contains(system, "Step 1: go to settings") {
		t.Error("expected above-threshold passage in prompt context")
	}
	if strings.Contains(system, "unrelated") {
		t.Error("expected below-threshold passage to be filtered out")
	}
}

func TestAnswer_EmbedsMostRecentUserMessage(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}
	comp := &mockCompleter{reply: "ok"}
	svc := newTestService(emb, idx, comp)

	_, err := svc.Answer(context.Background(), []domain.Message{
		userMsg("old question"),
		{Role: domain.RoleAssistant, Content: "old answer"},
		userMsg("new question"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.lastText != "new question" {
		t.Errorf("expected most recent user message, got %q", emb.lastText)
	}
}

func TestAnswer_PlaceholderOnEmptyCompletion(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}
	comp := &mockCompleter{reply: "   "}
	svc := newTestService(emb, idx, comp).WithEmptyAnswer("Inget svar från AI (tom context).")

	answer, err := svc.Answer(context.Background(), []domain.Message{userMsg("fråga")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "Inget svar från AI (tom context)." {
		t.Errorf("expected placeholder, got %q", answer)
	}
}

func TestAnswer_EmbedderFailure(t *testing.T) {
	embErr := errors.New("embedding down")
	emb := &mockEmbedder{err: embErr}
	idx := &mockIndex{}
	comp := &mockCompleter{}
	svc := newTestService(emb, idx, comp)

	_, err := svc.Answer(context.Background(), []domain.Message{userMsg("hej")})
	if !errors.Is(err, embErr) {
		t.Fatalf("expected wrapped embedder error, got %v", err)
	}
	if idx.calls != 0 || comp.calls != 0 {
		t.Error("expected pipeline to stop at the failed stage")
	}
}

func TestAnswer_IndexFailure(t *testing.T) {
	idxErr := errors.New("index down")
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{err: idxErr}
	comp := &mockCompleter{}
	svc := newTestService(emb, idx, comp)

	_, err := svc.Answer(context.Background(), []domain.Message{userMsg("hej")})
	if !errors.Is(err, idxErr) {
		t.Fatalf("expected wrapped index error, got %v", err)
	}
	if comp.calls != 0 {
		t.Error("completion must not run after index failure")
	}
}

func TestAnswer_CompleterFailure(t *testing.T) {
	compErr := errors.New("completion down")
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{}
	comp := &mockCompleter{err: compErr}
	svc := newTestService(emb, idx, comp)

	_, err := svc.Answer(context.Background(), []domain.Message{userMsg("hej")})
	if !errors.Is(err, compErr) {
		t.Fatalf("expected wrapped completion error, got %v", err)
	}
}

func TestAnswer_RetrievalOverrides(t *testing.T) {
	emb := &mockEmbedder{vec: []float32{0.1}}
	idx := &mockIndex{matches: []domain.Match{
		{ID: "a", Score: 0.95, Metadata: domain.ChunkMetadata{Text: "one"}},
		{ID: "b", Score: 0.94, Metadata: domain.ChunkMetadata{Text: "two"}},
		{ID: "c", Score: 0.93, Metadata: domain.ChunkMetadata{Text: "three"}},
	}}
	comp := &mockCompleter{reply: "ok"}
	svc := newTestService(emb, idx, comp).WithRetrieval(3, 0.9, 2)

	_, err := svc.Answer(context.Background(), []domain.Message{userMsg("hej")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if idx.lastTopK != 3 {
		t.Errorf("expected topK=3, got %d", idx.lastTopK)
	}
	system := comp.lastMsgs[0].Content
	if !strings.Contains(system, "one") || !strings.Contains(system, "two") {
		t.Error("expected two highest passages in context")
	}
	if strings.Contains(system, "three") {
		t.Error("expected maxPassages=2 to drop the third passage")
	}
}
