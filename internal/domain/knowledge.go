package domain

import "context"

// KnowledgeChunk is a unit of ingestable knowledge: a short keyword label
// plus the text that gets embedded and indexed.
type KnowledgeChunk struct {
	Keyword string
	Text    string
}

// ChunkMetadata is the metadata stored alongside each indexed vector and
// returned with every match.
type ChunkMetadata struct {
	Keyword string
	Text    string
}

// IndexedVector is a stored embedding with its metadata. Vectors are never
// mutated in place; re-ingestion writes new ids.
type IndexedVector struct {
	ID       string
	Values   []float32
	Metadata ChunkMetadata
}

// Match is one result of a similarity query, ranked by the index.
type Match struct {
	ID       string
	Score    float64
	Metadata ChunkMetadata
}

// VectorIndex is the similarity-search store contract shared by the
// answer and ingestion pipelines.
type VectorIndex interface {
	// Query returns the topK nearest neighbors with metadata attached,
	// in descending relevance order.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	// Upsert stores the given vectors in one batch and returns the
	// number upserted. Existing ids are overwritten (last write wins).
	Upsert(ctx context.Context, vectors []IndexedVector) (int, error)
}
