package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Prokaee/CTM-Quizbot/internal/formula"
	"github.com/Prokaee/CTM-Quizbot/internal/logging"
)

// handleScore handles POST /api/score. It evaluates one registered formula
// deterministically: the same request body always yields the same response.
// Unknown formulas map to 404, invalid inputs to 422.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req scoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Formula == "" {
		writeError(w, http.StatusBadRequest, "formula_name is required")
		return
	}

	result, err := s.formulas.Evaluate(req.Formula, req.Parameters)
	if err != nil {
		var invalid *formula.InvalidInputError
		switch {
		case errors.Is(err, formula.ErrNotFound):
			s.metrics.scoreEvaluationsTotal.WithLabelValues(req.Formula, "not_found").Inc()
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &invalid):
			s.metrics.scoreEvaluationsTotal.WithLabelValues(req.Formula, "invalid_input").Inc()
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.metrics.scoreEvaluationsTotal.WithLabelValues(req.Formula, "error").Inc()
			log.Error("score: evaluation failed", slog.String("formula", req.Formula), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "evaluation failed")
		}
		return
	}

	s.metrics.scoreEvaluationsTotal.WithLabelValues(req.Formula, "ok").Inc()
	writeJSON(w, http.StatusOK, result)
}

// handleFormulas handles GET /api/formulas. It lists every registered
// formula with its provenance and required parameters, so clients can
// discover the evaluation surface.
func (s *Server) handleFormulas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"formulas": s.formulas.List(),
	})
}
