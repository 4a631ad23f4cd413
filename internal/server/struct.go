package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Prokaee/CTM-Quizbot/internal/formula"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// retriever is the interface handleQuery calls to fetch ranked context.
// *rag.Retriever satisfies it; tests inject a fake.
type retriever interface {
	// Retrieve returns the ranked context chunks for a query.
	Retrieve(ctx context.Context, query string, topK int, filter *rag.Source) ([]rag.ScoredChunk, error)
}

// Server is the HTTP server exposing retrieval and formula evaluation.
type Server struct {
	// retriever answers /api/query requests.
	retriever retriever
	// formulas evaluates /api/score requests.
	formulas *formula.Registry
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Question is the natural-language rules question.
	Question string `json:"query_text"`
	// TopK is the number of chunks to return (0 = server default).
	TopK int `json:"top_k,omitempty"`
	// Source optionally restricts retrieval to "handbook" or "rules".
	Source string `json:"source_filter,omitempty"`
}

// chunkResult is one retrieved chunk in a queryResponse.
type chunkResult struct {
	// ID is the chunk identifier.
	ID string `json:"chunk_id"`
	// Text is the chunk content.
	Text string `json:"text"`
	// Source is the rule document the chunk came from.
	Source string `json:"source"`
	// RuleID is the anchoring rule clause, if any.
	RuleID string `json:"rule_id,omitempty"`
	// Section is the enclosing section heading, if any.
	Section string `json:"section,omitempty"`
	// Page is the page the chunk starts on.
	Page int `json:"page"`
	// Score is the final relevance score after boosting and priority.
	Score float64 `json:"score"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Question echoes the query text.
	Question string `json:"query_text"`
	// Chunks is the ranked context set.
	Chunks []chunkResult `json:"chunks"`
	// Context is the formatted context block for a reasoning layer.
	Context string `json:"context"`
}

// scoreRequest is the JSON body for POST /api/score.
type scoreRequest struct {
	// Formula is the formula name (e.g. "skidpad_score").
	Formula string `json:"formula_name"`
	// Parameters are the formula inputs (e.g. t_team, t_max).
	Parameters map[string]float64 `json:"parameters"`
}

// errorResponse is the JSON body for all error status codes.
type errorResponse struct {
	// Error is the human-readable failure reason.
	Error string `json:"error"`
}
