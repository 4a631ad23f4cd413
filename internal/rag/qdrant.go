package rag

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant-backed store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the stored embeddings.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance. It is the
// deployment-scale alternative to [MemoryStore]; both present the same
// append-only, rebuild-to-update contract.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a QdrantStore, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Insert adds chunks to the collection. The append-only contract is enforced
// by checking point existence first — any already-present id fails the whole
// batch with [ErrDuplicateID] before anything is written.
func (s *QdrantStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, qdrant.NewIDUUID(pointUUID(c.ID)))
	}
	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("qdrant: existence check failed: %w", err)
	}
	if len(existing) > 0 {
		id := "unknown"
		if p := existing[0].Payload; p != nil {
			if v, ok := p["chunk_id"]; ok {
				id = v.GetStringValue()
			}
		}
		return fmt.Errorf("qdrant: chunk %q: %w", id, ErrDuplicateID)
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointUUID(c.ID)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"chunk_id": c.ID,
				"text":     c.Text,
				"source":   string(c.Source),
				"rule_id":  c.RuleID,
				"section":  c.Section,
				"page":     int64(c.Page),
				"priority": c.Priority,
			}),
		})
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns the top-k results,
// re-sorted locally so tie-breaking matches the MemoryStore contract.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, k int, filter *Source) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	var qFilter *qdrant.Filter
	if filter != nil {
		qFilter = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("source", string(*filter)),
			},
		}
	}

	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Filter:         qFilter,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]ScoredChunk, 0, len(results))
	for _, r := range results {
		c := Chunk{}
		if p := r.Payload; p != nil {
			c.ID = p["chunk_id"].GetStringValue()
			c.Text = p["text"].GetStringValue()
			c.Source = Source(p["source"].GetStringValue())
			c.RuleID = p["rule_id"].GetStringValue()
			c.Section = p["section"].GetStringValue()
			c.Page = int(p["page"].GetIntegerValue())
			c.Priority = p["priority"].GetDoubleValue()
		}
		hits = append(hits, ScoredChunk{Chunk: c, Score: float64(r.Score)})
	}

	sortHits(hits)
	return hits, nil
}

// Rebuild drops and recreates the collection, then inserts the full chunk
// set. Queries issued against this store during a rebuild may observe the
// collection mid-build — run rebuilds exclusively, as the ingestion CLI does.
func (s *QdrantStore) Rebuild(ctx context.Context, chunks []Chunk) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: failed to drop collection %q: %w", s.cfg.Collection, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}
	return s.Insert(ctx, chunks)
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Ping checks that the Qdrant collection is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	_, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	return err
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantStore) Name() string { return "qdrant" }

// pointUUID derives a deterministic UUID-formatted point id from a chunk id,
// since Qdrant point ids must be UUIDs or integers.
func pointUUID(chunkID string) string {
	h := sha256.Sum256([]byte(chunkID))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
