package rag

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Prokaee/CTM-Quizbot/internal/logging"
)

// defaultKeywordBoost is the additive score bonus for candidates that carry a
// rule id cited verbatim in the query. Large enough that an exact citation is
// never buried by semantic noise, small enough not to drown similarity.
const defaultKeywordBoost = 0.3

// ruleIDPattern matches Formula Student rule identifiers such as "D 4.3.3",
// "AT 8.2" or "T1.2.3" in free text.
var ruleIDPattern = regexp.MustCompile(`\b(AT|[DTAB])\s?(\d+(?:\.\d+)*)\b`)

// RetrieverConfig holds the tunables for a Retriever.
type RetrieverConfig struct {
	// TopK is the default number of results when the caller passes 0.
	TopK int
	// KeywordBoost is the additive bonus for exact rule-id matches.
	// Defaults to 0.3 if zero.
	KeywordBoost float64
	// Reranker is the optional external reranking collaborator.
	Reranker Reranker
}

// Retriever orchestrates semantic search, keyword boosting, document
// priority weighting and deduplication into a single ranked context set.
// Rule priority (Handbook over Rules) is enforced here, at ranking time —
// downstream consumers only report the already-correct order.
type Retriever struct {
	// embedder converts query text to a dense vector.
	embedder Embedder
	// store performs the vector similarity search.
	store VectorStore
	// cfg holds the resolved configuration.
	cfg RetrieverConfig
}

// NewRetriever constructs a Retriever from an Embedder and a VectorStore.
func NewRetriever(embedder Embedder, store VectorStore, cfg *RetrieverConfig) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	resolved := RetrieverConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.TopK <= 0 {
		resolved.TopK = 5
	}
	if resolved.KeywordBoost == 0 {
		resolved.KeywordBoost = defaultKeywordBoost
	}
	return &Retriever{embedder: embedder, store: store, cfg: resolved}, nil
}

// Retrieve returns the ranked, deduplicated context set for a query.
// If topK is 0 the configured default is used. filter optionally restricts
// results to one source document. An empty store yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, filter *Source) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}

	// Over-fetch so boosting and priority weighting have headroom to
	// promote candidates from below the cut line.
	candidates := 3 * topK
	if candidates < topK+10 {
		candidates = topK + 10
	}

	hits, err := r.store.Search(ctx, embeddings[0], candidates, filter)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	queryRules := extractRuleIDs(query)

	// Keyword boost, then priority weighting, deduplicated keeping the
	// highest score per chunk id.
	best := make(map[string]ScoredChunk, len(hits))
	for _, h := range hits {
		score := h.Score
		if matchesAnyRule(h.Chunk, queryRules) {
			score += r.cfg.KeywordBoost
		}
		score *= h.Chunk.Priority

		h.Score = score
		if prev, ok := best[h.Chunk.ID]; !ok || score > prev.Score {
			best[h.Chunk.ID] = h
		}
	}

	ranked := make([]ScoredChunk, 0, len(best))
	for _, h := range best {
		ranked = append(ranked, h)
	}
	sortHits(ranked)
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	if r.cfg.Reranker != nil {
		reranked, err := r.cfg.Reranker.Rerank(ctx, query, ranked)
		if err != nil {
			// The reranker is a best-effort collaborator; keep our own order.
			logging.FromContext(ctx).Warn("rag: reranker failed, keeping retrieval order",
				slog.Any("error", err),
			)
		} else if len(reranked) == len(ranked) {
			ranked = reranked
		}
	}

	return ranked, nil
}

// RetrieveByRuleID returns chunks that actually contain the given rule id,
// using the hybrid path (the exact citation gets the keyword boost) and then
// filtering out candidates that merely resemble the rule semantically.
func (r *Retriever) RetrieveByRuleID(ctx context.Context, ruleID string) ([]ScoredChunk, error) {
	hits, err := r.Retrieve(ctx, "Rule "+ruleID, 10, nil)
	if err != nil {
		return nil, err
	}

	want := canonicalRule(ruleID)
	filtered := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if canonicalRule(h.Chunk.RuleID) == want || strings.Contains(canonicalRule(h.Chunk.Text), want) {
			filtered = append(filtered, h)
		}
	}
	return filtered, nil
}

// FormatContext renders retrieved chunks as a plain-text context block for
// the external reasoning layer, with provenance and relevance per chunk.
func FormatContext(hits []ScoredChunk) string {
	if len(hits) == 0 {
		return "No relevant context found."
	}

	var b strings.Builder
	b.WriteString("Retrieved rule sections:\n")
	for _, h := range hits {
		fmt.Fprintf(&b, "\n--- %s", sourceLabel(h.Chunk.Source))
		if h.Chunk.RuleID != "" {
			fmt.Fprintf(&b, " | %s", h.Chunk.RuleID)
		}
		fmt.Fprintf(&b, " | page %d | relevance %.3f ---\n", h.Chunk.Page, h.Score)
		b.WriteString(h.Chunk.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// sourceLabel maps a source enum to its display name.
func sourceLabel(s Source) string {
	switch s {
	case SourceHandbook:
		return "FSA Handbook"
	case SourceRules:
		return "FS Rules"
	default:
		return string(s)
	}
}

// extractRuleIDs returns the canonical forms of all rule ids cited in text.
func extractRuleIDs(text string) []string {
	matches := ruleIDPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		canon := m[1] + m[2]
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	return out
}

// matchesAnyRule reports whether the chunk's rule id or text contains any of
// the canonical rule ids.
func matchesAnyRule(c Chunk, rules []string) bool {
	if len(rules) == 0 {
		return false
	}
	chunkRule := canonicalRule(c.RuleID)
	var chunkText string // canonicalized lazily, it is the expensive one
	for _, rule := range rules {
		if chunkRule == rule {
			return true
		}
		if chunkText == "" {
			chunkText = canonicalRule(c.Text)
		}
		if strings.Contains(chunkText, rule) {
			return true
		}
	}
	return false
}

// canonicalRule strips all whitespace so "D 4.3.3" and "D4.3.3" compare equal.
func canonicalRule(s string) string {
	return strings.Join(strings.Fields(s), "")
}
