package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: ollama
  model: nomic-embed-text
  dimensions: 768
qdrant:
  host: qdrant.internal
  port: 6334
  collection: fs-rules
chunking:
  size: 1500
  overlap: 150
  min_size: 80
retrieval:
  top_k: 8
  keyword_boost: 0.25
store:
  db_path: /var/lib/quizbot/chunks.db
server:
  host: 0.0.0.0
  port: 9090
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"CHUNK_SIZE", "CHUNK_OVERLAP", "CHUNK_MIN_SIZE",
		"RETRIEVAL_TOP_K", "RETRIEVAL_KEYWORD_BOOST",
		"QUIZBOT_CHUNKS_DB", "QUIZBOT_HOST", "QUIZBOT_PORT",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":      "ollama",
		"EMBEDDING_MODEL":         "nomic-embed-text",
		"EMBEDDING_DIMENSIONS":    "768",
		"QDRANT_HOST":             "qdrant.internal",
		"QDRANT_PORT":             "6334",
		"QDRANT_COLLECTION":       "fs-rules",
		"CHUNK_SIZE":              "1500",
		"CHUNK_OVERLAP":           "150",
		"CHUNK_MIN_SIZE":          "80",
		"RETRIEVAL_TOP_K":         "8",
		"RETRIEVAL_KEYWORD_BOOST": "0.25",
		"QUIZBOT_CHUNKS_DB":       "/var/lib/quizbot/chunks.db",
		"QUIZBOT_HOST":            "0.0.0.0",
		"QUIZBOT_PORT":            "9090",
		"LOG_LEVEL":               "debug",
		"LOG_FORMAT":              "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
embedding:
  provider: openai
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("EMBEDDING_PROVIDER", "gemini")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "gemini" {
		t.Errorf("EMBEDDING_PROVIDER: expected env override %q, got %q", "gemini", got)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("embedding: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	if _, err := Load(cfgPath, log); err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}
