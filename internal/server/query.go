package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Prokaee/CTM-Quizbot/internal/logging"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// maxTopK caps the number of chunks a single query may request.
const maxTopK = 25

// handleQuery handles POST /api/query. It runs the hybrid retrieval path and
// returns the ranked context set plus a formatted context block.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "query_text is required")
		return
	}
	if req.TopK < 0 || req.TopK > maxTopK {
		writeError(w, http.StatusBadRequest, "top_k must be between 0 and 25")
		return
	}

	var filter *rag.Source
	if req.Source != "" {
		src := rag.Source(req.Source)
		if !src.Valid() {
			writeError(w, http.StatusBadRequest, "source_filter must be \"handbook\" or \"rules\"")
			return
		}
		filter = &src
	}

	start := time.Now()
	hits, err := s.retriever.Retrieve(r.Context(), req.Question, req.TopK, filter)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
	case len(hits) == 0:
		outcome = "empty"
	}
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())

	if err != nil {
		log.Error("query: retrieval failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}
	s.metrics.queryChunksReturned.Observe(float64(len(hits)))

	resp := queryResponse{
		Question: req.Question,
		Chunks:   make([]chunkResult, 0, len(hits)),
		Context:  rag.FormatContext(hits),
	}
	for _, h := range hits {
		resp.Chunks = append(resp.Chunks, chunkResult{
			ID:      h.Chunk.ID,
			Text:    h.Chunk.Text,
			Source:  string(h.Chunk.Source),
			RuleID:  h.Chunk.RuleID,
			Section: h.Chunk.Section,
			Page:    h.Chunk.Page,
			Score:   h.Score,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
