package chunker

import (
	"strings"
	"testing"

	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero size", Config{ChunkSize: 0, ChunkOverlap: 0, MinChunkSize: 0}, true},
		{"negative size", Config{ChunkSize: -1}, true},
		{"overlap equals size", Config{ChunkSize: 100, ChunkOverlap: 100}, true},
		{"negative overlap", Config{ChunkSize: 100, ChunkOverlap: -1}, true},
		{"negative min", Config{ChunkSize: 100, ChunkOverlap: 10, MinChunkSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
		})
	}
}

func TestChunkUnknownSource(t *testing.T) {
	t.Parallel()

	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Chunk(rag.Source("wiki"), []Page{{Number: 1, Text: "text"}}); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestChunkEmptyInput(t *testing.T) {
	t.Parallel()

	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks, err := c.Chunk(rag.SourceRules, nil)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestChunkDropsUndersized(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ChunkSize: 200, ChunkOverlap: 20, MinChunkSize: 100})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks, err := c.Chunk(rag.SourceRules, []Page{{Number: 1, Text: "too short"}})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("undersized document should yield no chunks, got %d", len(chunks))
	}
}

func TestChunkSingleDocument(t *testing.T) {
	t.Parallel()

	c, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := strings.Repeat("The skidpad event measures lateral acceleration. ", 10)
	chunks, err := c.Chunk(rag.SourceHandbook, []Page{{Number: 3, Text: text}})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	got := chunks[0]
	if got.Source != rag.SourceHandbook {
		t.Errorf("Source = %q, want %q", got.Source, rag.SourceHandbook)
	}
	if got.Priority != 1.5 {
		t.Errorf("Priority = %v, want 1.5", got.Priority)
	}
	if got.Page != 3 {
		t.Errorf("Page = %d, want 3", got.Page)
	}
	if got.ID == "" {
		t.Error("chunk ID must not be empty")
	}
}

func TestChunkSplitsAtRuleBoundary(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ChunkSize: 60, ChunkOverlap: 0, MinChunkSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pages := []Page{{Number: 1, Text: strings.Join([]string{
		"General event description text padding out line one.",
		"More general description padding out a second line.",
		"D 4.3.3 Skidpad scoring uses the squared time ratio.",
		"The best run of each team counts toward the score.",
	}, "\n")}}

	chunks, err := c.Chunk(rag.SourceRules, pages)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a split at the rule boundary, got %d chunks", len(chunks))
	}

	var ruleChunk *rag.Chunk
	for i := range chunks {
		if strings.HasPrefix(chunks[i].Text, "D 4.3.3") {
			ruleChunk = &chunks[i]
		}
	}
	if ruleChunk == nil {
		t.Fatal("no chunk starts at the D 4.3.3 boundary")
	}
	if ruleChunk.RuleID != "D4.3.3" {
		t.Errorf("RuleID = %q, want %q", ruleChunk.RuleID, "D4.3.3")
	}
	if ruleChunk.Priority != 1.0 {
		t.Errorf("Priority = %v, want 1.0", ruleChunk.Priority)
	}
}

func TestChunkSectionAndPageTracking(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ChunkSize: 80, ChunkOverlap: 0, MinChunkSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pages := []Page{
		{Number: 1, Text: "4.3 SCORING\nScores are computed from official timing data rows."},
		{Number: 2, Text: "AT 8.2.1 Autonomous scoring follows the same time ratio form and caps."},
	}

	chunks, err := c.Chunk(rag.SourceRules, pages)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}

	first := chunks[0]
	if first.Section != "4.3 SCORING" {
		t.Errorf("Section = %q, want %q", first.Section, "4.3 SCORING")
	}
	if first.Page != 1 {
		t.Errorf("Page = %d, want 1", first.Page)
	}

	last := chunks[len(chunks)-1]
	if !strings.Contains(last.Text, "AT 8.2.1") {
		t.Fatalf("last chunk missing autonomous rule text: %q", last.Text)
	}
	if len(chunks) > 1 && last.RuleID != "AT8.2.1" {
		t.Errorf("RuleID = %q, want %q", last.RuleID, "AT8.2.1")
	}
}

func TestChunkDeterministic(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ChunkSize: 120, ChunkOverlap: 30, MinChunkSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pages := []Page{{Number: 1, Text: strings.Repeat("D 6.1.1 Endurance heat one covers twenty two kilometres.\n", 8)}}

	a, err := c.Chunk(rag.SourceRules, pages)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	b, err := c.Chunk(rag.SourceRules, pages)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	seen := make(map[string]bool)
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Text != b[i].Text {
			t.Errorf("chunk %d differs across runs", i)
		}
		if seen[a[i].ID] {
			t.Errorf("duplicate chunk ID %q", a[i].ID)
		}
		seen[a[i].ID] = true
	}
}

func TestChunkOverlapCarriesContext(t *testing.T) {
	t.Parallel()

	c, err := New(Config{ChunkSize: 70, ChunkOverlap: 40, MinChunkSize: 10})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lines := []string{
		"Handbook body line number one.",
		"Handbook body line number two.",
		"Handbook body line number six.",
		"Handbook body line number ten.",
	}
	chunks, err := c.Chunk(rag.SourceHandbook, []Page{{Number: 1, Text: strings.Join(lines, "\n")}})
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// The last line of each chunk reappears at the start of the next.
	for i := 1; i < len(chunks); i++ {
		prevLines := strings.Split(chunks[i-1].Text, "\n")
		tail := prevLines[len(prevLines)-1]
		if !strings.HasPrefix(chunks[i].Text, tail) {
			t.Errorf("chunk %d does not start with previous tail %q", i, tail)
		}
	}
}
