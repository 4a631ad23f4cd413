package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Prokaee/CTM-Quizbot/internal/chunker"
	"github.com/Prokaee/CTM-Quizbot/internal/embedder"
	"github.com/Prokaee/CTM-Quizbot/internal/ingestion"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
	"github.com/Prokaee/CTM-Quizbot/internal/store"
)

// buildVectorStore constructs the vector store from environment configuration.
// When QDRANT_HOST is set, a Qdrant-backed store is used; otherwise chunks
// are served from an in-memory index loaded from the SQLite chunk archive.
func buildVectorStore(ctx context.Context, archive store.ChunkStore, log *slog.Logger) (rag.VectorStore, error) {
	qdrantHost := os.Getenv("QDRANT_HOST")
	if qdrantHost != "" {
		backend := getEnvOrDefault("EMBEDDING_PROVIDER", embedder.BackendGemini)
		vectorSize := uint64(embedder.DefaultDimensions(backend)) //nolint:gosec // dimensions are bounded

		qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
			Host:       qdrantHost,
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", "fs-rules"),
			VectorSize: vectorSize,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", qdrantHost, err)
		}
		log.Info("qdrant store ready",
			slog.String("host", qdrantHost),
			slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "fs-rules")),
		)
		return qs, nil
	}

	// No Qdrant configured: serve from memory, hydrated from the archive.
	ms := rag.NewMemoryStore()
	if archive == nil {
		log.Warn("no Qdrant host and no chunk archive — vector store starts empty")
		return ms, nil
	}

	chunks, err := archive.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load archived chunks: %w", err)
	}
	if len(chunks) > 0 {
		if err := ms.Rebuild(ctx, chunks); err != nil {
			return nil, fmt.Errorf("failed to index archived chunks: %w", err)
		}
	}
	log.Info("in-memory store hydrated from archive", slog.Int("chunks", len(chunks)))
	return ms, nil
}

// openArchive opens the SQLite chunk archive. QUIZBOT_CHUNKS_DB overrides the
// default path (~/.quizbot/chunks.db); set it to "disabled" to run without
// persistence. Returns nil when the archive is disabled or unavailable.
func openArchive(log *slog.Logger) *store.SQLiteStore {
	dbPath := os.Getenv("QUIZBOT_CHUNKS_DB")
	if dbPath == "disabled" {
		log.Info("chunk archive disabled via QUIZBOT_CHUNKS_DB=disabled")
		return nil
	}
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("could not resolve default chunk archive path, disabling", slog.Any("error", err))
			return nil
		}
	}
	s, err := store.Open(dbPath)
	if err != nil {
		log.Warn("failed to open chunk archive, disabling", slog.Any("error", err))
		return nil
	}
	log.Info("chunk archive opened", slog.String("path", dbPath))
	return s
}

// retrieverConfigFromEnv builds the retriever tuning knobs from env vars.
func retrieverConfigFromEnv() *rag.RetrieverConfig {
	return &rag.RetrieverConfig{
		TopK:         getEnvInt("RETRIEVAL_TOP_K", 0),
		KeywordBoost: getEnvFloat("RETRIEVAL_KEYWORD_BOOST", 0),
	}
}

// readDocument reads an extracted-text rule document from disk. Pages are
// separated by form-feed characters, as produced by pdftotext. Empty pages
// are kept so page numbering stays aligned with the PDF.
func readDocument(source rag.Source, path string) (ingestion.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	raw := strings.Split(string(data), "\f")
	pages := make([]chunker.Page, 0, len(raw))
	for i, text := range raw {
		pages = append(pages, chunker.Page{
			Number: i + 1,
			Text:   text,
		})
	}

	return ingestion.Document{Source: source, Pages: pages}, nil
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
