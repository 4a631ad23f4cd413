package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Prokaee/CTM-Quizbot/internal/formula"
	"github.com/Prokaee/CTM-Quizbot/internal/rag"
)

// fakeRetriever records the last call and returns canned hits.
type fakeRetriever struct {
	hits      []rag.ScoredChunk
	err       error
	gotQuery  string
	gotTopK   int
	gotFilter *rag.Source
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, topK int, filter *rag.Source) ([]rag.ScoredChunk, error) {
	f.gotQuery = query
	f.gotTopK = topK
	f.gotFilter = filter
	return f.hits, f.err
}

func newTestServer(t *testing.T, ret retriever, cfg *Config) *Server {
	t.Helper()
	srv, err := New(ret, formula.NewRegistry(), prometheus.NewRegistry(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.stopRL)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestQueryReturnsRankedChunks(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{hits: []rag.ScoredChunk{
		{
			Chunk: rag.Chunk{
				ID: "c1", Text: "D 4.3.3 Skidpad scoring.", Source: rag.SourceRules,
				RuleID: "D4.3.3", Section: "4.3 SKIDPAD", Page: 40, Priority: 1.0,
			},
			Score: 1.25,
		},
	}}
	srv := newTestServer(t, ret, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query",
		`{"query_text":"How is the skidpad scored?","top_k":3}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp queryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ret.gotQuery != "How is the skidpad scored?" || ret.gotTopK != 3 || ret.gotFilter != nil {
		t.Errorf("retriever called with (%q, %d, %v)", ret.gotQuery, ret.gotTopK, ret.gotFilter)
	}
	if len(resp.Chunks) != 1 || resp.Chunks[0].ID != "c1" || resp.Chunks[0].Score != 1.25 {
		t.Errorf("chunks = %+v", resp.Chunks)
	}
	if !strings.Contains(resp.Context, "D 4.3.3 Skidpad scoring.") {
		t.Errorf("context missing chunk text: %q", resp.Context)
	}
}

func TestQuerySourceFilter(t *testing.T) {
	t.Parallel()

	ret := &fakeRetriever{}
	srv := newTestServer(t, ret, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/query",
		`{"query_text":"deadlines?","source_filter":"handbook"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ret.gotFilter == nil || *ret.gotFilter != rag.SourceHandbook {
		t.Errorf("filter = %v, want handbook", ret.gotFilter)
	}
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing query text", `{}`},
		{"unknown source", `{"query_text":"q","source_filter":"wiki"}`},
		{"top_k too large", `{"query_text":"q","top_k":100}`},
		{"negative top_k", `{"query_text":"q","top_k":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/query", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestQueryRetrievalFailure(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{err: errors.New("backend down")}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/query", `{"query_text":"q"}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestScoreEvaluatesFormula(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/score",
		`{"formula_name":"skidpad_score","parameters":{"t_team":4.5,"t_max":5.0}}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result formula.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if result.Value != 33.46 {
		t.Errorf("value = %v, want 33.46", result.Value)
	}
	if result.FormulaName != "skidpad_score" || result.RuleReference != "D 4.3.3" {
		t.Errorf("result = %+v", result)
	}
}

func TestScoreDeterministic(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	body := `{"formula_name":"endurance_score","parameters":{"t_team":1400,"t_min":1300}}`

	first := doJSON(t, srv, http.MethodPost, "/api/score", body, nil).Body.String()
	for i := 0; i < 3; i++ {
		if got := doJSON(t, srv, http.MethodPost, "/api/score", body, nil).Body.String(); got != first {
			t.Fatalf("response changed between identical requests:\n%s\nvs\n%s", first, got)
		}
	}
}

func TestScoreUnknownFormula(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/api/score",
		`{"formula_name":"lap_record_score","parameters":{}}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestScoreInvalidInput(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing parameter", `{"formula_name":"skidpad_score","parameters":{"t_team":4.5}}`},
		{"non-positive time", `{"formula_name":"skidpad_score","parameters":{"t_team":0,"t_max":5}}`},
		{"zero t_min", `{"formula_name":"autocross_score","parameters":{"t_team":70,"t_min":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/score", tt.body, nil)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("status = %d, want 422, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestFormulasListsRegistry(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/formulas", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Formulas []formula.Descriptor `json:"formulas"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Formulas) != 6 {
		t.Fatalf("got %d formulas, want 6", len(resp.Formulas))
	}
	for i := 1; i < len(resp.Formulas); i++ {
		if resp.Formulas[i-1].Name >= resp.Formulas[i].Name {
			t.Errorf("formulas not sorted: %q before %q", resp.Formulas[i-1].Name, resp.Formulas[i].Name)
		}
	}
}

func TestHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// staticPinger reports a fixed result under a fixed name.
type staticPinger struct {
	name string
	err  error
}

func (p staticPinger) Ping(context.Context) error { return p.err }
func (p staticPinger) Name() string               { return p.name }

func TestReadyReflectsDependencies(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, &Config{
		Pingers: []Pinger{
			staticPinger{name: "vectorstore"},
			staticPinger{name: "sqlite", err: errors.New("disk gone")},
		},
	})

	rec := doJSON(t, srv, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Ready {
		t.Error("ready = true with a failing dependency")
	}
	if len(resp.Checks) != 2 || resp.Checks[0].Name != "vectorstore" || !resp.Checks[0].OK ||
		resp.Checks[1].Name != "sqlite" || resp.Checks[1].OK {
		t.Errorf("checks = %+v", resp.Checks)
	}
}

func TestReadyNoPingers(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)
	rec := doJSON(t, srv, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthProtectsAPIRoutes(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, &Config{APIKey: "sekret"})

	rec := doJSON(t, srv, http.MethodPost, "/api/query", `{"query_text":"q"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/query", `{"query_text":"q"}`,
		http.Header{"Authorization": []string{"Bearer wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/query", `{"query_text":"q"}`,
		http.Header{"Authorization": []string{"Bearer sekret"}})
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rec.Code)
	}

	// Liveness stays open so orchestrators can probe without credentials.
	rec = doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health with auth enabled: status = %d, want 200", rec.Code)
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, &Config{RateLimit: 1, RateBurst: 2})

	var got429 bool
	for i := 0; i < 5; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/api/query", `{"query_text":"q"}`, nil)
		if rec.Code == http.StatusTooManyRequests {
			got429 = true
			if retry := rec.Header().Get("Retry-After"); retry == "" {
				t.Error("429 without Retry-After header")
			}
			break
		}
	}
	if !got429 {
		t.Error("burst of 5 requests never hit the rate limit")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakeRetriever{}, nil)

	// Generate some traffic so counters exist.
	doJSON(t, srv, http.MethodPost, "/api/score",
		`{"formula_name":"cost_score","parameters":{"cost_real":20000,"cost_min":15000}}`, nil)

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "quizbot_score_evaluations_total") {
		t.Errorf("metrics output missing score counter:\n%.500s", rec.Body.String())
	}
}
