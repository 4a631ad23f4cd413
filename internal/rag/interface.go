// Package rag defines the retrieval subsystem for the quiz bot: the Chunk
// data model, vector storage, embedding, and the priority-aware Retriever.
// Concrete stores (in-memory, Qdrant) satisfy the VectorStore interface so
// the rest of the system never depends on a specific backend.
package rag

import (
	"context"
	"errors"
)

// Source identifies the rule document a chunk was extracted from.
type Source string

const (
	// SourceHandbook is the FSA Competition Handbook. Its content outranks
	// the FS Rules whenever both are relevant.
	SourceHandbook Source = "handbook"

	// SourceRules is the FS Rules document.
	SourceRules Source = "rules"
)

// Valid reports whether s is a known source document.
func (s Source) Valid() bool {
	return s == SourceHandbook || s == SourceRules
}

// Per-source ranking weights. The Handbook weight is strictly greater than
// the Rules weight; this table is the single source of truth for the rule
// priority policy and is applied once, at chunk creation time.
const (
	handbookPriority = 1.5
	rulesPriority    = 1.0
)

// PriorityFor returns the fixed ranking weight for a source document.
// Unknown sources get the lowest weight.
func PriorityFor(s Source) float64 {
	if s == SourceHandbook {
		return handbookPriority
	}
	return rulesPriority
}

// ErrDuplicateID is returned when an insert would overwrite an existing
// chunk id. The store is append-only per build — content changes go through
// Rebuild, never partial mutation.
var ErrDuplicateID = errors.New("duplicate chunk id")

// Chunk is a retrievable unit of rule document text. Chunks are created
// during ingestion and immutable once stored.
type Chunk struct {
	// ID is the globally unique chunk identifier, stable across rebuilds
	// as long as the source text is unchanged.
	ID string

	// Text is the chunk content, split at semantic boundaries.
	Text string

	// Embedding is the dense vector for Text. Its dimension is fixed by the
	// embedding model (768 for text-embedding-004).
	Embedding []float32

	// Source is the rule document this chunk belongs to.
	Source Source

	// RuleID is the rule clause anchoring this chunk (e.g. "D 4.3.3"),
	// best-effort extracted from the leading text. May be empty.
	RuleID string

	// Section is the heading of the section the chunk falls under.
	Section string

	// Page is the 1-based page number the chunk starts on.
	Page int

	// Priority is the fixed per-source ranking weight, assigned at chunk
	// creation from [PriorityFor] and never changed per query.
	Priority float64
}

// ScoredChunk pairs a chunk with its relevance score for one query.
type ScoredChunk struct {
	// Chunk is the retrieved chunk.
	Chunk Chunk

	// Score is the relevance score. At the store level this is raw cosine
	// similarity; after the Retriever it includes keyword and priority
	// weighting.
	Score float64
}

// VectorStore persists chunks with their embeddings and supports
// nearest-neighbor search. Implementations must be safe for concurrent
// reads; Rebuild must never expose a partially rebuilt index to readers.
type VectorStore interface {
	// Insert adds chunks to the index. It fails with an error wrapping
	// [ErrDuplicateID] if any chunk id is already present, leaving the
	// existing index state intact.
	Insert(ctx context.Context, chunks []Chunk) error

	// Search returns up to k nearest neighbors of queryEmbedding by cosine
	// similarity, optionally restricted to one source document. Ties are
	// broken by priority descending, then chunk id ascending, so results
	// are deterministic. An empty or unbuilt store returns an empty result
	// and no error.
	Search(ctx context.Context, queryEmbedding []float32, k int, filter *Source) ([]ScoredChunk, error)

	// Rebuild atomically replaces the entire index with the given chunk
	// set. This is the only supported update path besides append-only
	// Insert.
	Rebuild(ctx context.Context, chunks []Chunk) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker is an optional external collaborator that reorders the top-k
// results using a more expensive relevance judgment. The Retriever degrades
// gracefully when a reranker fails.
type Reranker interface {
	// Rerank reorders hits by relevance to query. The returned slice must
	// be a permutation of the input.
	Rerank(ctx context.Context, query string, hits []ScoredChunk) ([]ScoredChunk, error)
}
