// Package pinecone implements domain.VectorIndex against the Pinecone
// data-plane HTTP API.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fortuspay/supportkb/internal/domain"
)

// Compile-time check: Index implements domain.VectorIndex.
var _ domain.VectorIndex = (*Index)(nil)

// Index is a thin client for one Pinecone index, addressed by its host URL.
type Index struct {
	httpClient *http.Client
	host       string
	apiKey     string
	name       string
	dimensions int
	logger     *zap.Logger
}

// Config holds connection parameters for a Pinecone index.
type Config struct {
	APIKey     string
	Host       string // index host URL from the Pinecone console
	Name       string
	Dimensions int
	Timeout    time.Duration
	Logger     *zap.Logger
}

// New creates a Pinecone index client.
func New(cfg Config) *Index {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Index{
		httpClient: &http.Client{Timeout: timeout},
		host:       strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		name:       cfg.Name,
		dimensions: cfg.Dimensions,
		logger:     cfg.Logger,
	}
}

type queryRequest struct {
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string  `json:"id"`
		Score    float64 `json:"score"`
		Metadata struct {
			Keyword string `json:"keyword"`
			Text    string `json:"text"`
		} `json:"metadata"`
	} `json:"matches"`
}

// Query returns the topK nearest neighbors with metadata attached.
func (x *Index) Query(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	if err := x.check(vector); err != nil {
		return nil, err
	}

	var resp queryResponse
	err := x.post(ctx, "/query", queryRequest{
		Vector:          vector,
		TopK:            topK,
		IncludeMetadata: true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	matches := make([]domain.Match, len(resp.Matches))
	for i, m := range resp.Matches {
		matches[i] = domain.Match{
			ID:    m.ID,
			Score: m.Score,
			Metadata: domain.ChunkMetadata{
				Keyword: m.Metadata.Keyword,
				Text:    m.Metadata.Text,
			},
		}
	}
	return matches, nil
}

type upsertRequest struct {
	Vectors []upsertVector `json:"vectors"`
}

type upsertVector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

// Upsert stores the vectors in one batch call. Existing ids are overwritten.
func (x *Index) Upsert(ctx context.Context, vectors []domain.IndexedVector) (int, error) {
	req := upsertRequest{Vectors: make([]upsertVector, len(vectors))}
	for i, v := range vectors {
		if err := x.check(v.Values); err != nil {
			return 0, err
		}
		req.Vectors[i] = upsertVector{
			ID:     v.ID,
			Values: v.Values,
			Metadata: map[string]string{
				"keyword": v.Metadata.Keyword,
				"text":    v.Metadata.Text,
			},
		}
	}

	var resp upsertResponse
	if err := x.post(ctx, "/vectors/upsert", req, &resp); err != nil {
		return 0, err
	}
	return resp.UpsertedCount, nil
}

// Ping verifies index availability via describe_index_stats.
func (x *Index) Ping(ctx context.Context) error {
	var resp json.RawMessage
	if err := x.post(ctx, "/describe_index_stats", struct{}{}, &resp); err != nil {
		return fmt.Errorf("describe index stats: %w", err)
	}
	return nil
}

// check guards configuration errors before the provider ever sees the call.
func (x *Index) check(vector []float32) error {
	if x.name == "" {
		return domain.ErrIndexNameMissing
	}
	if x.dimensions > 0 && len(vector) != x.dimensions {
		return fmt.Errorf("vector has %d dimensions, index %q expects %d: %w",
			len(vector), x.name, x.dimensions, domain.ErrVectorDimMismatch)
	}
	return nil
}

func (x *Index) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.host+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Api-Key", x.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pinecone %s: %w: %w", path, err, domain.ErrIndexProviderError)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read pinecone response: %w: %w", err, domain.ErrIndexProviderError)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("pinecone %s returned %d: %s: %w",
			path, resp.StatusCode, errDetail(raw), domain.ErrIndexProviderError)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse pinecone response: %w: %w", err, domain.ErrIndexProviderError)
	}
	return nil
}

// errDetail extracts the "message" field from a Pinecone error body.
func errDetail(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		return parsed.Message
	}
	return string(body)
}
