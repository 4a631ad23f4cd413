package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// memoryIndex is one immutable snapshot of the in-memory index. Chunks hold
// L2-normalized copies of their embeddings so search reduces to a dot
// product. Snapshots are never mutated after publication.
type memoryIndex struct {
	// chunks is the full chunk set in insertion order.
	chunks []Chunk
	// byID maps chunk id to its position in chunks.
	byID map[string]int
	// dimension is the embedding vector size, fixed by the first insert.
	dimension int
}

// MemoryStore is a brute-force cosine-similarity VectorStore held entirely
// in memory. Writes build a fresh snapshot and publish it atomically, so
// concurrent readers never observe a partially updated index and queries
// need no locking.
type MemoryStore struct {
	// mu serializes writers (Insert, Rebuild).
	mu sync.Mutex
	// idx is the current published snapshot. nil until the first insert.
	idx atomic.Pointer[memoryIndex]
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert adds chunks to the index. The whole batch is rejected with an error
// wrapping [ErrDuplicateID] if any id is already present or repeated within
// the batch; the existing index is left untouched in that case.
func (s *MemoryStore) Insert(_ context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.idx.Load()
	next, err := extendIndex(cur, chunks)
	if err != nil {
		return err
	}
	s.idx.Store(next)
	return nil
}

// Rebuild atomically replaces the index with the given chunk set.
func (s *MemoryStore) Rebuild(_ context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := extendIndex(nil, chunks)
	if err != nil {
		return err
	}
	s.idx.Store(next)
	return nil
}

// Search returns the k nearest chunks to queryEmbedding by cosine
// similarity, optionally restricted to one source. An empty or unbuilt
// store returns an empty result and no error — "no context found" is a
// valid outcome, not a fault.
func (s *MemoryStore) Search(_ context.Context, queryEmbedding []float32, k int, filter *Source) ([]ScoredChunk, error) {
	snap := s.idx.Load()
	if snap == nil || len(snap.chunks) == 0 || k <= 0 {
		return nil, nil
	}
	if len(queryEmbedding) != snap.dimension {
		return nil, fmt.Errorf("rag: query embedding dimension %d does not match index dimension %d",
			len(queryEmbedding), snap.dimension)
	}

	query := normalize(queryEmbedding)

	hits := make([]ScoredChunk, 0, len(snap.chunks))
	for _, c := range snap.chunks {
		if filter != nil && c.Source != *filter {
			continue
		}
		hits = append(hits, ScoredChunk{Chunk: c, Score: dot(c.Embedding, query)})
	}

	sortHits(hits)

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of chunks currently indexed.
func (s *MemoryStore) Len() int {
	snap := s.idx.Load()
	if snap == nil {
		return 0
	}
	return len(snap.chunks)
}

// Close releases nothing for the in-memory store; it exists to satisfy
// VectorStore.
func (s *MemoryStore) Close() error { return nil }

// Ping reports the store as reachable once an index snapshot exists.
func (s *MemoryStore) Ping(context.Context) error {
	if s.idx.Load() == nil {
		return fmt.Errorf("index not built")
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *MemoryStore) Name() string { return "vectorstore" }

// extendIndex builds a new snapshot from cur plus the added chunks, copying
// cur's slices so the published snapshot stays immutable. cur may be nil.
func extendIndex(cur *memoryIndex, added []Chunk) (*memoryIndex, error) {
	var base []Chunk
	dimension := 0
	if cur != nil {
		base = cur.chunks
		dimension = cur.dimension
	}

	next := &memoryIndex{
		chunks:    make([]Chunk, 0, len(base)+len(added)),
		byID:      make(map[string]int, len(base)+len(added)),
		dimension: dimension,
	}
	next.chunks = append(next.chunks, base...)
	for i, c := range next.chunks {
		next.byID[c.ID] = i
	}

	for _, c := range added {
		if c.ID == "" {
			return nil, fmt.Errorf("rag: chunk with empty id")
		}
		if _, exists := next.byID[c.ID]; exists {
			return nil, fmt.Errorf("rag: chunk %q: %w", c.ID, ErrDuplicateID)
		}
		if len(c.Embedding) == 0 {
			return nil, fmt.Errorf("rag: chunk %q has no embedding", c.ID)
		}
		if next.dimension == 0 {
			next.dimension = len(c.Embedding)
		}
		if len(c.Embedding) != next.dimension {
			return nil, fmt.Errorf("rag: chunk %q embedding dimension %d does not match index dimension %d",
				c.ID, len(c.Embedding), next.dimension)
		}

		stored := c
		stored.Embedding = normalize(c.Embedding)
		next.byID[stored.ID] = len(next.chunks)
		next.chunks = append(next.chunks, stored)
	}

	return next, nil
}

// sortHits orders hits by score descending, then priority descending, then
// chunk id ascending. The full ordering makes search results deterministic
// even under exact score ties.
func sortHits(hits []ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.Priority != hits[j].Chunk.Priority {
			return hits[i].Chunk.Priority > hits[j].Chunk.Priority
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// normalize returns an L2-normalized copy of v. A zero vector is returned
// unchanged (its similarity to anything is 0).
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// dot computes the inner product of two equal-length vectors in float64 for
// a stable, platform-independent ordering.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
