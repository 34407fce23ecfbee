package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lawgraph/counsel/internal/config"
	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
	"github.com/lawgraph/counsel/internal/observability/metrics"
)

type askServiceFake struct {
	state      *domain.AgentState
	err        error
	questions  []string
	requestIDs []string
	opts       []domain.AskOptions
}

func (f *askServiceFake) Ask(_ context.Context, requestID, question string, opts domain.AskOptions) (*domain.AgentState, error) {
	f.questions = append(f.questions, question)
	f.requestIDs = append(f.requestIDs, requestID)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	state := f.state
	if state == nil {
		state = answeredState()
	}
	copied := *state
	copied.RequestID = requestID
	return &copied, nil
}

func answeredState() *domain.AgentState {
	return &domain.AgentState{
		Question: "What does article 12 require?",
		Intent:   domain.IntentRAG,
		Best: &domain.AnswerPayload{
			Answer:     "Article 12 requires written form for the contract.",
			Citations:  []domain.Citation{{ChunkID: "c1", Source: "civil_code.md", Section: "12"}},
			Confidence: 0.82,
			Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
			Mode:       domain.AnswerModeMulti,
		},
		Trace: []domain.TraceEvent{
			{Node: "router", Detail: map[string]any{"intent": "rag", "elapsed_ms": 0.4}},
			{Node: "researcher", Detail: map[string]any{"rewrites": 3, "elapsed_ms": 310.0}},
			{Node: "answerer", Detail: map[string]any{"candidates": 14, "elapsed_ms": 1204.5}},
			{Node: "compliance", Detail: map[string]any{"audit": "published", "elapsed_ms": 2.1}},
		},
	}
}

type sessionStoreFake struct {
	history   []domain.SessionMessage
	listErr   error
	appendErr error
	appended  []domain.SessionMessage
}

func (f *sessionStoreFake) AppendMessage(_ context.Context, message domain.SessionMessage) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, message)
	return nil
}

func (f *sessionStoreFake) ListRecent(_ context.Context, _ string, _ int) ([]domain.SessionMessage, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.history, nil
}

func newTestHandler(cfg config.Config, ask ports.QuestionService, sessions ports.SessionStore) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(cfg, ask, sessions, metrics.NewHTTPServerMetrics(metricsService), log).Handler()
}

func postAsk(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskReturnsAnswer(t *testing.T) {
	ask := &askServiceFake{}
	handler := newTestHandler(config.Config{}, ask, nil)

	res := postAsk(handler, `{"question":"What does article 12 require?"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	var resp askResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Article 12 requires written form for the contract." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != "c1" {
		t.Fatalf("unexpected citations: %+v", resp.Citations)
	}
	if resp.Mode != domain.AnswerModeMulti {
		t.Fatalf("expected mode multi, got %q", resp.Mode)
	}
	if resp.RequestID == "" {
		t.Fatalf("expected a minted request id")
	}
	if got := res.Header().Get(requestIDHeader); got != resp.RequestID {
		t.Fatalf("request id header %q does not match body %q", got, resp.RequestID)
	}
	if len(resp.Trace) != 0 {
		t.Fatalf("trace must be omitted unless requested, got %d events", len(resp.Trace))
	}
}

func TestAskIncludesTraceWhenRequested(t *testing.T) {
	handler := newTestHandler(config.Config{}, &askServiceFake{}, nil)

	res := postAsk(handler, `{"question":"What does article 12 require?","trace":true}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var resp askResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Trace) != 4 {
		t.Fatalf("expected 4 trace events, got %d", len(resp.Trace))
	}
	if resp.Trace[0].Node != "router" {
		t.Fatalf("expected trace to start at router, got %q", resp.Trace[0].Node)
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	ask := &askServiceFake{}
	handler := newTestHandler(config.Config{}, ask, nil)

	res := postAsk(handler, `{"question":"   "}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(ask.questions) != 0 {
		t.Fatalf("pipeline must not run for an empty question")
	}
}

func TestAskRejectsMalformedJSON(t *testing.T) {
	handler := newTestHandler(config.Config{}, &askServiceFake{}, nil)

	res := postAsk(handler, `{"question":`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskRejectsNonPost(t *testing.T) {
	handler := newTestHandler(config.Config{}, &askServiceFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/ask", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.Code)
	}
}

func TestAskMapsErrorKinds(t *testing.T) {
	invalid := &askServiceFake{err: domain.WrapError(domain.ErrInvalidInput, "ask", errors.New(`unknown mode "verbatim"`))}
	res := postAsk(newTestHandler(config.Config{}, invalid, nil), `{"question":"hi","mode":"verbatim"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("invalid input expected 400, got %d", res.Code)
	}

	temporary := &askServiceFake{err: domain.WrapError(domain.ErrTemporary, "ask", errors.New("model endpoint down"))}
	res = postAsk(newTestHandler(config.Config{}, temporary, nil), `{"question":"hi"}`)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("temporary failure expected 503, got %d", res.Code)
	}
}

func TestAskEnrichesQuestionWithSessionHistory(t *testing.T) {
	ask := &askServiceFake{}
	sessions := &sessionStoreFake{history: []domain.SessionMessage{
		{SessionID: "s1", Role: "user", Content: "What is the limitation period?"},
		{SessionID: "s1", Role: "assistant", Content: "Three years under article 196."},
	}}
	handler := newTestHandler(config.Config{SessionHistory: 5}, ask, sessions)

	res := postAsk(handler, `{"question":"Where does it start running?","session_id":"s1"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}

	if len(ask.questions) != 1 {
		t.Fatalf("expected one pipeline call, got %d", len(ask.questions))
	}
	enriched := ask.questions[0]
	want := "user: What is the limitation period?\n" +
		"assistant: Three years under article 196.\n" +
		"User: Where does it start running?"
	if enriched != want {
		t.Fatalf("enriched question mismatch:\ngot:  %q\nwant: %q", enriched, want)
	}

	if len(sessions.appended) != 2 {
		t.Fatalf("expected both turns recorded, got %d", len(sessions.appended))
	}
	if sessions.appended[0].Role != "user" || sessions.appended[0].Content != "Where does it start running?" {
		t.Fatalf("user turn must store the raw question, got %+v", sessions.appended[0])
	}
	if sessions.appended[1].Role != "assistant" || sessions.appended[1].SessionID != "s1" {
		t.Fatalf("unexpected assistant turn: %+v", sessions.appended[1])
	}
}

func TestAskDegradesWhenHistoryUnavailable(t *testing.T) {
	ask := &askServiceFake{}
	sessions := &sessionStoreFake{listErr: errors.New("connection refused")}
	handler := newTestHandler(config.Config{SessionHistory: 5}, ask, sessions)

	res := postAsk(handler, `{"question":"What is a pledge?","session_id":"s1"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 despite history failure, got %d", res.Code)
	}
	if len(ask.questions) != 1 || ask.questions[0] != "What is a pledge?" {
		t.Fatalf("expected the bare question, got %v", ask.questions)
	}
}

func TestAskPassesModeAndDepthOverrides(t *testing.T) {
	ask := &askServiceFake{}
	handler := newTestHandler(config.Config{}, ask, nil)

	res := postAsk(handler, `{"question":"Compare articles 12 and 13","mode":"merge","top_k_ctx":12}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if len(ask.opts) != 1 {
		t.Fatalf("expected one pipeline call, got %d", len(ask.opts))
	}
	if ask.opts[0].Mode != domain.AnswerModeMerge || ask.opts[0].TopKCtx != 12 {
		t.Fatalf("overrides not forwarded: %+v", ask.opts[0])
	}
}

func TestAskRequiresBearerTokenWhenConfigured(t *testing.T) {
	cfg := config.Config{APIAuthToken: "sekret"}
	handler := newTestHandler(cfg, &askServiceFake{}, nil)

	res := postAsk(handler, `{"question":"hi"}`)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Authorization", "Bearer sekret")
	ok := httptest.NewRecorder()
	handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", ok.Code)
	}

	probe := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	health := httptest.NewRecorder()
	handler.ServeHTTP(health, probe)
	if health.Code != http.StatusOK {
		t.Fatalf("healthz must stay open, got %d", health.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(config.Config{}, &askServiceFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected healthz body: %v", body)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	handler := newTestHandler(config.Config{}, &askServiceFake{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Body.Len() == 0 {
		t.Fatalf("expected exposition output")
	}
}
