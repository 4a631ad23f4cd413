// Package ingestion implements the rule document ingestion pipeline.
// It chunks extracted document pages, embeds each chunk, and loads the
// results into the vector store and the SQLite chunk archive. The pipeline
// is invoked by the `quizbot ingest` CLI command.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/Prokaee/CTM-Quizbot/internal/chunker"
	"github.com/Prokaee/CTM-Quizbot/internal/embedder"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
	"github.com/Prokaee/CTM-Quizbot/internal/store"
)

// Document is one rule document to ingest: its source identity plus the
// extracted page text in reading order.
type Document struct {
	// Source identifies which rule document this is.
	Source rag.Source

	// Pages is the extracted text, one entry per page.
	Pages []chunker.Page
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Chunking controls chunk sizing. Zero fields get chunker defaults.
	Chunking chunker.Config

	// BatchSize is the number of chunks embedded per API call.
	// Defaults to 16 if zero.
	BatchSize int

	// Workers is the number of concurrent embedding batches.
	// Defaults to 4 if zero.
	Workers int

	// EmbedRate is the maximum number of embedding API calls per second
	// across all workers. Defaults to 5 if zero.
	EmbedRate float64

	// RetryAttempts is the number of tries per embedding batch.
	// Defaults to 3 if zero.
	RetryAttempts int
}

// ChunkFailure records one chunk that could not be embedded.
type ChunkFailure struct {
	// ChunkID is the id of the failed chunk.
	ChunkID string
	// Err is the embedding error after retries.
	Err error
}

// Report summarizes the ingestion of one document. Embedding failures are
// collected rather than aborting the run — a partially ingested document is
// still queryable, and the report tells the operator what to re-run.
type Report struct {
	// Source is the ingested document.
	Source rag.Source
	// Chunks is the number of chunks produced by the splitter.
	Chunks int
	// Embedded is the number of chunks successfully embedded and stored.
	Embedded int
	// Failures lists chunks that failed to embed after retries.
	Failures []ChunkFailure
}

// Pipeline orchestrates the chunk → embed → store flow for rule documents.
type Pipeline struct {
	// splitter cuts page text into chunks.
	splitter *chunker.Chunker

	// embedder converts chunk text into dense vectors, retry-wrapped.
	embedder rag.Embedder

	// vectors receives the embedded chunks for similarity search.
	vectors rag.VectorStore

	// archive persists embedded chunks for rebuilds without re-embedding.
	// May be nil when no archive is configured.
	archive store.ChunkStore

	// limiter bounds the embedding API call rate across workers.
	limiter *rate.Limiter

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and
// config. archive may be nil to skip chunk persistence.
func NewPipeline(embed rag.Embedder, vectors rag.VectorStore, archive store.ChunkStore, cfg *Config) (*Pipeline, error) {
	if embed == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if vectors == nil {
		return nil, fmt.Errorf("ingestion: vector store must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Chunking == (chunker.Config{}) {
		cfg.Chunking = chunker.DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.EmbedRate <= 0 {
		cfg.EmbedRate = 5
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}

	splitter, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	return &Pipeline{
		splitter: splitter,
		embedder: embedder.WithRetry(embed, cfg.RetryAttempts),
		vectors:  vectors,
		archive:  archive,
		limiter:  rate.NewLimiter(rate.Limit(cfg.EmbedRate), 1),
		cfg:      cfg,
	}, nil
}

// Ingest processes all documents and loads their chunks into the stores.
// Documents are processed sequentially; embedding batches within a document
// run in parallel. Embedding failures are reported per chunk; storage
// failures (including duplicate chunk ids) abort the run.
func (p *Pipeline) Ingest(ctx context.Context, docs []Document, progress func(msg string)) ([]Report, error) {
	if progress == nil {
		progress = func(string) {}
	}

	reports := make([]Report, 0, len(docs))
	for _, doc := range docs {
		report, err := p.ingestOne(ctx, doc, progress)
		if err != nil {
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// batchResult carries the outcome of one embedding batch back to the collector.
type batchResult struct {
	chunks   []rag.Chunk
	failures []ChunkFailure
}

func (p *Pipeline) ingestOne(ctx context.Context, doc Document, progress func(msg string)) (Report, error) {
	report := Report{Source: doc.Source}

	chunks, err := p.splitter.Chunk(doc.Source, doc.Pages)
	if err != nil {
		return report, fmt.Errorf("ingestion: chunking %s failed: %w", doc.Source, err)
	}
	report.Chunks = len(chunks)
	progress(fmt.Sprintf("chunked %s into %d chunks", doc.Source, len(chunks)))

	if len(chunks) == 0 {
		return report, nil
	}

	batches := make(chan []rag.Chunk)
	results := make(chan batchResult)

	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				results <- p.embedBatch(ctx, batch)
			}
		}()
	}
	go func() {
		defer close(batches)
		for start := 0; start < len(chunks); start += p.cfg.BatchSize {
			end := start + p.cfg.BatchSize
			if end > len(chunks) {
				end = len(chunks)
			}
			select {
			case batches <- chunks[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var embedded []rag.Chunk
	for res := range results {
		embedded = append(embedded, res.chunks...)
		report.Failures = append(report.Failures, res.failures...)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Embedded = len(embedded)
	progress(fmt.Sprintf("embedded %d/%d chunks from %s", len(embedded), len(chunks), doc.Source))

	if len(report.Failures) > 0 {
		logging.FromContext(ctx).Warn("ingestion: some chunks failed to embed",
			slog.String("source", string(doc.Source)),
			slog.Int("failed", len(report.Failures)),
			slog.Int("total", len(chunks)),
		)
	}
	if len(embedded) == 0 {
		return report, nil
	}

	if err := p.vectors.Insert(ctx, embedded); err != nil {
		return report, fmt.Errorf("ingestion: storing %s chunks failed: %w", doc.Source, err)
	}
	if p.archive != nil {
		if err := p.archive.Replace(ctx, doc.Source, embedded); err != nil {
			return report, fmt.Errorf("ingestion: archiving %s chunks failed: %w", doc.Source, err)
		}
	}
	progress(fmt.Sprintf("ingested %d chunks from %s", len(embedded), doc.Source))

	return report, nil
}

// embedBatch embeds one batch under the rate limit. A batch-level failure is
// attributed to every chunk in the batch.
func (p *Pipeline) embedBatch(ctx context.Context, batch []rag.Chunk) batchResult {
	if err := p.limiter.Wait(ctx); err != nil {
		return failBatch(batch, err)
	}

	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	embeddings, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return failBatch(batch, err)
	}
	if len(embeddings) != len(batch) {
		return failBatch(batch, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(embeddings)))
	}

	out := make([]rag.Chunk, len(batch))
	for i, c := range batch {
		c.Embedding = embeddings[i]
		out[i] = c
	}
	return batchResult{chunks: out}
}

// failBatch records err against every chunk of a failed batch.
func failBatch(batch []rag.Chunk, err error) batchResult {
	failures := make([]ChunkFailure, len(batch))
	for i, c := range batch {
		failures[i] = ChunkFailure{ChunkID: c.ID, Err: err}
	}
	return batchResult{failures: failures}
}
