package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Prokaee/CTM-Quizbot/internal/chunker"
	"github.com/Prokaee/CTM-Quizbot/internal/embedder"
	"github.com/Prokaee/CTM-Quizbot/internal/ingestion"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// NewIngestCmd constructs the `quizbot ingest` command, which runs the
// document ingestion pipeline to populate the vector store and chunk archive.
func NewIngestCmd() *cobra.Command {
	var handbookPath string
	var rulesPath string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest rule documents into the vector store",
		Long: `Chunk, embed, and index the Formula Student rule documents.

Input files are extracted page text with form-feed page separators, as
produced by 'pdftotext document.pdf document.txt'. Re-ingesting a document
replaces its previous chunks.

Handbook chunks are indexed with priority 1.5 and FS-Rules chunks with
priority 1.0, so handbook sections outrank rule sections at equal
similarity during retrieval.

Required environment variables:
  EMBEDDING_PROVIDER   Embedding backend: gemini, ollama, openai (default: gemini)
  GEMINI_API_KEY       API key for the default Gemini backend
  QDRANT_HOST          Qdrant server hostname (omit to index in memory only)
  QDRANT_COLLECTION    Collection name (default: fs-rules)
  QUIZBOT_CHUNKS_DB    SQLite chunk archive path (default: ~/.quizbot/chunks.db)

Examples:
  quizbot ingest --handbook handbook.txt --rules fs-rules.txt
  quizbot ingest --handbook handbook.txt
  CHUNK_SIZE=1500 quizbot ingest --rules fs-rules.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if handbookPath == "" && rulesPath == "" {
				return fmt.Errorf("ingest: at least one of --handbook or --rules is required")
			}

			if err := embedder.Validate(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			emb, err := embedder.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised",
				slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", embedder.BackendGemini)))

			archive := openArchive(log)
			if archive != nil {
				defer func() { _ = archive.Close() }()
			}

			vectors, err := buildVectorStore(ctx, nil, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer func() { _ = vectors.Close() }()

			var docs []ingestion.Document
			if handbookPath != "" {
				doc, err := readDocument(rag.SourceHandbook, handbookPath)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				docs = append(docs, doc)
			}
			if rulesPath != "" {
				doc, err := readDocument(rag.SourceRules, rulesPath)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				docs = append(docs, doc)
			}

			pipeline, err := ingestion.NewPipeline(emb, vectors, archive, &ingestion.Config{
				Chunking: chunker.Config{
					ChunkSize:    getEnvInt("CHUNK_SIZE", chunker.DefaultChunkSize),
					ChunkOverlap: getEnvInt("CHUNK_OVERLAP", chunker.DefaultChunkOverlap),
					MinChunkSize: getEnvInt("CHUNK_MIN_SIZE", chunker.DefaultMinChunkSize),
				},
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("documents", len(docs)))

			reports, err := pipeline.Ingest(ctx, docs, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			for _, r := range reports {
				log.Info("document ingested",
					slog.String("source", string(r.Source)),
					slog.Int("chunks", r.Chunks),
					slog.Int("embedded", r.Embedded),
					slog.Int("failed", len(r.Failures)),
				)
				for _, f := range r.Failures {
					log.Warn("chunk failed to embed",
						slog.String("chunk_id", f.ChunkID),
						slog.Any("error", f.Err),
					)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&handbookPath, "handbook", "", "Path to the extracted FSA Handbook text")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "Path to the extracted FS-Rules text")

	return cmd
}
