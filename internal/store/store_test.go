package store

import (
	"context"
	"testing"

	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testChunk(id string, source rag.Source) rag.Chunk {
	return rag.Chunk{
		ID:        id,
		Text:      "The skidpad track consists of two pairs of concentric circles.",
		Embedding: []float32{0.125, -0.5, 0.3333333, 1},
		Source:    source,
		RuleID:    "D4.3.1",
		Section:   "4.3 SKIDPAD EVENT",
		Page:      42,
		Priority:  rag.PriorityFor(source),
	}
}

func TestReplaceAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	want := testChunk("abc123", rag.SourceHandbook)
	if err := s.Replace(ctx, rag.SourceHandbook, []rag.Chunk{want}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}

	c := got[0]
	if c.ID != want.ID || c.Text != want.Text || c.Source != want.Source ||
		c.RuleID != want.RuleID || c.Section != want.Section || c.Page != want.Page ||
		c.Priority != want.Priority {
		t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", c, want)
	}
	if len(c.Embedding) != len(want.Embedding) {
		t.Fatalf("embedding length = %d, want %d", len(c.Embedding), len(want.Embedding))
	}
	for i := range c.Embedding {
		if c.Embedding[i] != want.Embedding[i] {
			t.Errorf("embedding[%d] = %v, want %v (must be bit-exact)", i, c.Embedding[i], want.Embedding[i])
		}
	}
}

func TestReplaceSwapsOnlyOneSource(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Replace(ctx, rag.SourceHandbook, []rag.Chunk{testChunk("h1", rag.SourceHandbook)}); err != nil {
		t.Fatalf("Replace handbook: %v", err)
	}
	if err := s.Replace(ctx, rag.SourceRules, []rag.Chunk{
		testChunk("r1", rag.SourceRules),
		testChunk("r2", rag.SourceRules),
	}); err != nil {
		t.Fatalf("Replace rules: %v", err)
	}

	// Re-ingesting the rules document must leave the handbook alone.
	if err := s.Replace(ctx, rag.SourceRules, []rag.Chunk{testChunk("r3", rag.SourceRules)}); err != nil {
		t.Fatalf("Replace rules again: %v", err)
	}

	if n, err := s.Count(ctx, rag.SourceHandbook); err != nil || n != 1 {
		t.Errorf("handbook count = %d (%v), want 1", n, err)
	}
	if n, err := s.Count(ctx, rag.SourceRules); err != nil || n != 1 {
		t.Errorf("rules count = %d (%v), want 1", n, err)
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	ids := make(map[string]bool, len(all))
	for _, c := range all {
		ids[c.ID] = true
	}
	if !ids["h1"] || !ids["r3"] || ids["r1"] || ids["r2"] {
		t.Errorf("unexpected id set after swap: %v", ids)
	}
}

func TestReplaceRejectsMismatchedSource(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	err := s.Replace(context.Background(), rag.SourceRules, []rag.Chunk{testChunk("h1", rag.SourceHandbook)})
	if err == nil {
		t.Error("expected error for chunk from a different source")
	}
}

func TestReplaceRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	if err := s.Replace(context.Background(), rag.Source("wiki"), nil); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestLoadAllEmptyAndOrdered(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no chunks, got %d", len(got))
	}

	if err := s.Replace(ctx, rag.SourceRules, []rag.Chunk{
		testChunk("b", rag.SourceRules),
		testChunk("a", rag.SourceRules),
		testChunk("c", rag.SourceRules),
	}); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err = s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].ID != want {
			t.Errorf("chunk %d = %q, want %q", i, got[i].ID, want)
		}
	}
}
