// Package redis implements domain.VectorIndex on a self-hosted Redis 8+
// instance via rueidis (FT.CREATE HNSW index, FT.SEARCH KNN queries).
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/fortuspay/supportkb/internal/domain"
)

// Compile-time check: Store implements domain.VectorIndex.
var _ domain.VectorIndex = (*Store)(nil)

// Config holds connection parameters for a Redis-backed index.
type Config struct {
	Addrs           []string
	Username        string
	Password        string
	Name            string // FT index name
	KeyPrefix       string
	Dimensions      int
	HNSWM           int
	HNSWEFConstruct int
}

// Store is a Redis-backed vector index.
type Store struct {
	client     rueidis.Client
	name       string
	keyPrefix  string
	dimensions int
	hnswM      int
	hnswEF     int
}

// NewStore connects to Redis and returns a vector index store.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{
		client:     client,
		name:       cfg.Name,
		keyPrefix:  cfg.KeyPrefix,
		dimensions: cfg.Dimensions,
		hnswM:      cfg.HNSWM,
		hnswEF:     cfg.HNSWEFConstruct,
	}, nil
}

// NewStoreForTest wraps an existing client (used with rueidis/mock).
func NewStoreForTest(client rueidis.Client, cfg Config) *Store {
	return &Store{
		client:     client,
		name:       cfg.Name,
		keyPrefix:  cfg.KeyPrefix,
		dimensions: cfg.Dimensions,
		hnswM:      cfg.HNSWM,
		hnswEF:     cfg.HNSWEFConstruct,
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// EnsureIndex creates the FT index with the configured dimensionality.
// An already existing index is left untouched.
func (s *Store) EnsureIndex(ctx context.Context) error {
	if s.name == "" {
		return domain.ErrIndexNameMissing
	}

	args := []string{
		s.name, "ON", "HASH",
		"PREFIX", "1", s.keyPrefix,
		"SCHEMA",
		"vector", "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(s.dimensions),
		"DISTANCE_METRIC", "COSINE",
		"M", strconv.Itoa(s.hnswM),
		"EF_CONSTRUCTION", strconv.Itoa(s.hnswEF),
	}

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("FT.CREATE %s: %w: %w", s.name, err, domain.ErrIndexProviderError)
	}
	return nil
}

// Query runs a KNN vector similarity search via FT.SEARCH.
func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	if err := s.check(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive")
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", topK)
	args := []string{
		s.name, queryStr,
		"RETURN", "3", "keyword", "text", "__vector_score",
		"SORTBY", "__vector_score",
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "unknown index name") {
			return nil, fmt.Errorf("index %q does not exist: %w", s.name, domain.ErrIndexProviderError)
		}
		return nil, fmt.Errorf("FT.SEARCH %s: %w: %w", s.name, err, domain.ErrIndexProviderError)
	}

	return parseKNNResult(raw, s.keyPrefix)
}

// Upsert stores all vectors in a single DoMulti round-trip of HSET commands.
// Existing ids are overwritten (last write wins).
func (s *Store) Upsert(ctx context.Context, vectors []domain.IndexedVector) (int, error) {
	if s.name == "" {
		return 0, domain.ErrIndexNameMissing
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	cmds := make([]rueidis.Completed, len(vectors))
	for i, v := range vectors {
		if err := s.check(v.Values); err != nil {
			return 0, err
		}
		cmds[i] = s.client.B().Hset().Key(s.keyPrefix+v.ID).FieldValue().
			FieldValue("vector", vectorToBytes(v.Values)).
			FieldValue("keyword", v.Metadata.Keyword).
			FieldValue("text", v.Metadata.Text).
			Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	for i, res := range results {
		if err := res.Error(); err != nil {
			return 0, fmt.Errorf("HSET %s: %w: %w", vectors[i].ID, err, domain.ErrIndexProviderError)
		}
	}
	return len(vectors), nil
}

func (s *Store) check(vector []float32) error {
	if s.name == "" {
		return domain.ErrIndexNameMissing
	}
	if s.dimensions > 0 && len(vector) != s.dimensions {
		return fmt.Errorf("vector has %d dimensions, index %q expects %d: %w",
			len(vector), s.name, s.dimensions, domain.ErrVectorDimMismatch)
	}
	return nil
}

// parseKNNResult decodes a RESP2 FT.SEARCH reply.
// Layout is 2-stride: [total, key1, fields1, key2, fields2, ...].
func parseKNNResult(raw []rueidis.RedisMessage, keyPrefix string) ([]domain.Match, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	matches := make([]domain.Match, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}

		fieldArr, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldArr)

		match := domain.Match{
			ID: trimPrefix(key, keyPrefix),
			Metadata: domain.ChunkMetadata{
				Keyword: fields["keyword"],
				Text:    fields["text"],
			},
		}
		if scoreStr, ok := fields["__vector_score"]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				match.Score = max(0, 1.0-d) // cosine distance → similarity, clamped to [0,1]
			}
		}

		matches = append(matches, match)
	}

	return matches, nil
}

func parseFieldPairs(arr []rueidis.RedisMessage) map[string]string {
	fields := make(map[string]string, len(arr)/2)
	for i := 0; i+1 < len(arr); i += 2 {
		k, err1 := arr[i].ToString()
		v, err2 := arr[i+1].ToString()
		if err1 == nil && err2 == nil {
			fields[k] = v
		}
	}
	return fields
}

func trimPrefix(key, prefix string) string {
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

// vectorToBytes encodes a float32 vector as a little-endian binary blob.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// isRedisErr checks if err is a Redis server error containing substr (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	ls := len(s)
	lsub := len(substr)
	if lsub > ls {
		return false
	}
	for i := 0; i <= ls-lsub; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			sc := s[i+j]
			tc := substr[j]
			if sc >= 'A' && sc <= 'Z' {
				sc += 'a' - 'A'
			}
			if tc >= 'A' && tc <= 'Z' {
				tc += 'a' - 'A'
			}
			if sc != tc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
