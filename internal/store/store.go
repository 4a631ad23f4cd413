// Package store provides a SQLite-backed chunk archive. Ingestion persists
// every embedded chunk here so the vector index can be rebuilt after a
// restart or backend switch without re-embedding the rule documents —
// embedding is the expensive, rate-limited step.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// ChunkStore persists embedded chunks keyed by source document.
// Implementations must be safe for concurrent use.
type ChunkStore interface {
	// Replace atomically swaps all persisted chunks of one source document
	// for the given set. Chunks of other sources are untouched.
	Replace(ctx context.Context, source rag.Source, chunks []rag.Chunk) error
	// LoadAll returns every persisted chunk across all sources, ordered by
	// chunk id for determinism.
	LoadAll(ctx context.Context) ([]rag.Chunk, error)
	// Count returns the number of persisted chunks for one source.
	Count(ctx context.Context, source rag.Source) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a ChunkStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the chunk database.
// It resolves to ~/.quizbot/chunks.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".quizbot")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "chunks.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
    chunk_id   TEXT    PRIMARY KEY,
    source     TEXT    NOT NULL CHECK(source IN ('handbook','rules')),
    rule_id    TEXT    NOT NULL DEFAULT '',
    section    TEXT    NOT NULL DEFAULT '',
    page       INTEGER NOT NULL DEFAULT 0,
    priority   REAL    NOT NULL,
    text       TEXT    NOT NULL,
    embedding  BLOB    NOT NULL  -- little-endian float32 vector
);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (source);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Replace atomically swaps all persisted chunks of one source document.
func (s *SQLiteStore) Replace(ctx context.Context, source rag.Source, chunks []rag.Chunk) error {
	if !source.Valid() {
		return fmt.Errorf("store: unknown source %q", source)
	}
	for _, c := range chunks {
		if c.Source != source {
			return fmt.Errorf("store: chunk %q belongs to %q, not %q", c.ID, c.Source, source)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: replace begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source = ?`, string(source)); err != nil {
		return fmt.Errorf("store: replace delete: %w", err)
	}

	const q = `INSERT INTO chunks (chunk_id, source, rule_id, section, page, priority, text, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx, q,
			c.ID, string(c.Source), c.RuleID, c.Section, c.Page, c.Priority, c.Text, encodeEmbedding(c.Embedding),
		); err != nil {
			return fmt.Errorf("store: replace insert %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: replace commit: %w", err)
	}
	return nil
}

// LoadAll returns every persisted chunk, ordered by chunk id.
func (s *SQLiteStore) LoadAll(ctx context.Context) ([]rag.Chunk, error) {
	const q = `SELECT chunk_id, source, rule_id, section, page, priority, text, embedding
FROM chunks ORDER BY chunk_id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	defer rows.Close()

	var chunks []rag.Chunk
	for rows.Next() {
		var (
			c      rag.Chunk
			source string
			blob   []byte
		)
		if err := rows.Scan(&c.ID, &source, &c.RuleID, &c.Section, &c.Page, &c.Priority, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("store: load scan: %w", err)
		}
		c.Source = rag.Source(source)
		c.Embedding, err = decodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("store: chunk %q: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load rows: %w", err)
	}
	return chunks, nil
}

// Count returns the number of persisted chunks for one source.
func (s *SQLiteStore) Count(ctx context.Context, source rag.Source) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source = ?`, string(source)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return n, nil
}

// Ping verifies the database connection for readiness checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Name returns the dependency label used in readiness responses.
func (s *SQLiteStore) Name() string { return "sqlite" }

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// encodeEmbedding packs a float32 vector as a little-endian byte blob.
func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian byte blob into a float32 vector.
func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return v, nil
}
