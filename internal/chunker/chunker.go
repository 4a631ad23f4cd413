// Package chunker splits extracted document text into overlapping chunks
// aligned to semantic boundaries. Formula Student documents are heavily
// structured (rule identifiers, numbered sections, uppercase headings), so
// the splitter prefers to cut at those boundaries rather than mid-paragraph.
package chunker

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"

	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// Defaults chosen for embedding models with large context windows: big
// chunks keep a rule and its surrounding explanation together.
const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
	DefaultMinChunkSize = 100
)

var (
	// ruleBoundary matches lines opening with a rule identifier such as
	// "D 4.3.3" or "AT 8.2.1".
	ruleBoundary = regexp.MustCompile(`^(AT|[DATB])\s*(\d+(?:\.\d+)*)`)

	// sectionBoundary matches numbered section headings like "4.3 SCORING".
	sectionBoundary = regexp.MustCompile(`^\d+\.\d+\s+[A-Z]`)

	// capsBoundary matches standalone ALL-CAPS headings.
	capsBoundary = regexp.MustCompile(`^[A-Z][A-Z\s]{5,}$`)
)

// Page is one page of extracted document text, in reading order.
type Page struct {
	// Number is the 1-based page number in the source document.
	Number int

	// Text is the extracted plain text of the page.
	Text string
}

// Config controls chunk sizing. The zero value is not valid; use
// [DefaultConfig] and override as needed.
type Config struct {
	// ChunkSize is the target chunk size in characters. A chunk may run
	// past this to reach the next semantic boundary.
	ChunkSize int

	// ChunkOverlap is the number of trailing characters carried into the
	// next chunk for context continuity.
	ChunkOverlap int

	// MinChunkSize drops chunks smaller than this many characters.
	MinChunkSize int
}

// DefaultConfig returns the standard chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
	}
}

// Chunker splits documents according to a fixed [Config].
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunker: chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunker: overlap must be in [0,%d), got %d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.MinChunkSize < 0 {
		return nil, fmt.Errorf("chunker: min chunk size must be non-negative, got %d", cfg.MinChunkSize)
	}
	return &Chunker{cfg: cfg}, nil
}

// line is one input line tagged with its source page and enclosing section.
type line struct {
	text    string
	page    int
	section string
}

// Chunk splits the pages of one source document into chunks. Chunk IDs
// are deterministic over (source, index), so re-chunking the same document
// yields byte-identical output. Embeddings are left empty for the
// ingestion pipeline to fill in.
func (c *Chunker) Chunk(source rag.Source, pages []Page) ([]rag.Chunk, error) {
	if !source.Valid() {
		return nil, fmt.Errorf("chunker: unknown source %q", source)
	}

	lines := flatten(pages)
	if len(lines) == 0 {
		return nil, nil
	}

	var (
		chunks  []rag.Chunk
		current []line
		chars   int
		index   int
	)

	flush := func() {
		text := joinLines(current)
		if len(text) >= c.cfg.MinChunkSize {
			chunks = append(chunks, c.build(source, index, current, text))
			index++
		}
		current = overlapLines(current, c.cfg.ChunkOverlap)
		chars = 0
		for _, l := range current {
			chars += len(l.text) + 1
		}
	}

	for _, l := range lines {
		lineLen := len(l.text) + 1
		if chars+lineLen > c.cfg.ChunkSize && len(current) > 0 {
			// Cut either at a semantic boundary or once the target
			// size is already exceeded.
			if isBoundary(l.text) || chars >= c.cfg.ChunkSize {
				flush()
			}
		}
		current = append(current, l)
		chars += lineLen
	}

	if len(current) > 0 {
		text := joinLines(current)
		if len(text) >= c.cfg.MinChunkSize {
			chunks = append(chunks, c.build(source, index, current, text))
		}
	}

	return chunks, nil
}

// build assembles the chunk with its metadata: the page of its first line,
// the section heading in effect at that line, and a best-effort rule id
// extracted from the chunk's leading text.
func (c *Chunker) build(source rag.Source, index int, lines []line, text string) rag.Chunk {
	return rag.Chunk{
		ID:       chunkID(source, index),
		Text:     strings.TrimSpace(text),
		Source:   source,
		RuleID:   leadingRuleID(lines),
		Section:  lines[0].section,
		Page:     lines[0].page,
		Priority: rag.PriorityFor(source),
	}
}

// flatten expands pages into tagged lines, tracking the most recent
// section heading so each line knows its enclosing section.
func flatten(pages []Page) []line {
	var (
		lines   []line
		section string
	)
	for _, p := range pages {
		for _, text := range strings.Split(p.Text, "\n") {
			trimmed := strings.TrimSpace(text)
			if sectionBoundary.MatchString(trimmed) || capsBoundary.MatchString(trimmed) {
				section = trimmed
			}
			lines = append(lines, line{text: text, page: p.Number, section: section})
		}
	}
	return lines
}

// isBoundary reports whether a line opens a new semantic unit.
func isBoundary(text string) bool {
	trimmed := strings.TrimSpace(text)
	return ruleBoundary.MatchString(trimmed) ||
		sectionBoundary.MatchString(trimmed) ||
		capsBoundary.MatchString(trimmed)
}

// leadingRuleID returns the canonical rule id ("D4.3.3") opening the
// chunk's first non-empty lines, or "" when the chunk has none.
func leadingRuleID(lines []line) string {
	for _, l := range lines {
		trimmed := strings.TrimSpace(l.text)
		if trimmed == "" {
			continue
		}
		if m := ruleBoundary.FindStringSubmatch(trimmed); m != nil {
			return m[1] + m[2]
		}
		return ""
	}
	return ""
}

// overlapLines returns the trailing lines that fit within target characters.
func overlapLines(lines []line, target int) []line {
	size := 0
	cut := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		lineSize := len(lines[i].text) + 1
		if size+lineSize > target {
			break
		}
		size += lineSize
		cut = i
	}
	return append([]line(nil), lines[cut:]...)
}

// joinLines reconstructs the chunk text.
func joinLines(lines []line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.text
	}
	return strings.Join(parts, "\n")
}

// chunkID generates a deterministic ID for a chunk from its source
// document and position.
func chunkID(source rag.Source, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", source, index)))
	return fmt.Sprintf("%x", h[:16])
}
