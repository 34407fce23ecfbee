package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lawgraph/counsel/internal/config"
	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
	"github.com/lawgraph/counsel/internal/observability/metrics"
)

// metricsService is the service label on every metric this process emits.
const metricsService = "api"

type Router struct {
	cfg      config.Config
	ask      ports.QuestionService
	sessions ports.SessionStore
	metrics  *metrics.HTTPServerMetrics
	log      *slog.Logger
}

// NewRouter wires the ask pipeline behind the HTTP surface. sessions may be
// nil; the API then runs without history enrichment.
func NewRouter(
	cfg config.Config,
	ask ports.QuestionService,
	sessions ports.SessionStore,
	m *metrics.HTTPServerMetrics,
	log *slog.Logger,
) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		cfg:      cfg,
		ask:      ask,
		sessions: sessions,
		metrics:  m,
		log:      log,
	}
}

func (rt *Router) Handler() http.Handler {
	// Traffic control and auth wrap only the ask route so probes and
	// scrapers keep working while the pipeline sheds load.
	ask := http.Handler(http.HandlerFunc(rt.askQuestion))
	ask = bearerAuthMiddleware(ask, rt.cfg.APIAuthToken)
	ask = backpressureMiddleware(ask, rt.cfg.APIMaxConcurrent, time.Duration(rt.cfg.APIBackpressureWait)*time.Millisecond)
	ask = rateLimitMiddleware(ask, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/v1/ask", ask)

	handler := rt.metrics.Middleware(metricsService, mux)
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	Mode      string `json:"mode"`
	TopKCtx   int    `json:"top_k_ctx"`
	Trace     bool   `json:"trace"`
}

type askResponse struct {
	Answer     string              `json:"answer"`
	Citations  []domain.Citation   `json:"citations"`
	Confidence float64             `json:"confidence"`
	Safety     domain.SafetyInfo   `json:"safety"`
	Mode       string              `json:"mode,omitempty"`
	RequestID  string              `json:"request_id"`
	Trace      []domain.TraceEvent `json:"trace,omitempty"`
}

func (rt *Router) askQuestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}

	ctx := r.Context()
	enriched := rt.withSessionHistory(ctx, req.SessionID, question)

	state, err := rt.ask.Ask(ctx, requestIDFromContext(ctx), enriched, domain.AskOptions{
		Mode:    req.Mode,
		TopKCtx: req.TopKCtx,
	})
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if state.Best == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "no answer produced"})
		return
	}

	rt.recordSessionTurns(ctx, req.SessionID, question, state.Best.Answer)
	rt.recordAskMetrics(state)

	resp := askResponse{
		Answer:     state.Best.Answer,
		Citations:  state.Best.Citations,
		Confidence: state.Best.Confidence,
		Safety:     state.Best.Safety,
		Mode:       state.Best.Mode,
		RequestID:  state.RequestID,
	}
	if resp.Citations == nil {
		resp.Citations = []domain.Citation{}
	}
	if req.Trace {
		resp.Trace = state.Trace
	}
	writeJSON(w, http.StatusOK, resp)
}

// withSessionHistory prefixes the question with the session's recent turns so
// follow-ups ("what about clause 3?") carry their referent through routing and
// retrieval. A failed history lookup degrades to the bare question.
func (rt *Router) withSessionHistory(ctx context.Context, sessionID, question string) string {
	if sessionID == "" || rt.sessions == nil {
		return question
	}
	history, err := rt.sessions.ListRecent(ctx, sessionID, rt.cfg.SessionHistory)
	if err != nil {
		rt.log.Warn("session history unavailable", "session_id", sessionID, "error", err)
		return question
	}
	if len(history) == 0 {
		return question
	}

	var b strings.Builder
	for _, msg := range history {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(question)
	return b.String()
}

// recordSessionTurns appends both sides of the exchange. The raw question is
// stored, not the enriched one, so history never nests.
func (rt *Router) recordSessionTurns(ctx context.Context, sessionID, question, answer string) {
	if sessionID == "" || rt.sessions == nil {
		return
	}
	turns := []domain.SessionMessage{
		{SessionID: sessionID, Role: "user", Content: question},
		{SessionID: sessionID, Role: "assistant", Content: answer},
	}
	for _, turn := range turns {
		if err := rt.sessions.AppendMessage(ctx, turn); err != nil {
			rt.log.Warn("session append failed", "session_id", sessionID, "role", turn.Role, "error", err)
		}
	}
}

// recordAskMetrics turns the orchestration trace into Prometheus series. The
// trace detail keys are a stable contract with the orchestrator stages.
func (rt *Router) recordAskMetrics(state *domain.AgentState) {
	for _, ev := range state.Trace {
		if ms, ok := ev.Detail["elapsed_ms"].(float64); ok {
			rt.metrics.RecordStageDuration(metricsService, ev.Node, time.Duration(ms*float64(time.Millisecond)))
		}
		switch ev.Node {
		case "researcher":
			if n, ok := ev.Detail["rewrites"].(int); ok {
				rt.metrics.RecordRewriteFanout(metricsService, n)
			}
		case "answerer":
			if n, ok := ev.Detail["candidates"].(int); ok {
				rt.metrics.RecordRetrievalCandidates(metricsService, n)
			}
		case "compliance":
			if outcome, ok := ev.Detail["audit"].(string); ok {
				rt.metrics.RecordAuditPublish(metricsService, outcome)
			}
		}
	}
	rt.metrics.RecordAskOutcome(
		metricsService,
		string(state.Intent),
		state.Best.Mode,
		state.Best.Confidence,
		state.Best.Safety.Blocked,
	)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
