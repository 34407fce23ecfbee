package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
	"github.com/lawgraph/counsel/internal/core/safety"
)

// Stage identifies one node of the orchestration machine.
type Stage string

const (
	StageRouter     Stage = "router"
	StageResearcher Stage = "researcher"
	StageAnswerer   Stage = "answerer"
	StageWebSearch  Stage = "web_search"
	StageCompliance Stage = "compliance"
	StageEnd        Stage = "end"
)

// nextStage is the transition function of the machine. It depends only on the
// current stage and the routed intent, never on the trace.
func nextStage(current Stage, intent domain.Intent) Stage {
	switch current {
	case StageRouter:
		switch intent {
		case domain.IntentRAG:
			return StageResearcher
		case domain.IntentWeb:
			return StageWebSearch
		default:
			return StageAnswerer
		}
	case StageResearcher:
		return StageAnswerer
	case StageAnswerer, StageWebSearch:
		return StageCompliance
	default:
		return StageEnd
	}
}

type OrchestratorConfig struct {
	// MaxRewrites is the rewrite count excluding the original question.
	MaxRewrites    int
	TopKCtx        int
	ConfidenceGate float64
	WebResults     int
}

// Orchestrator drives one question through the staged pipeline. Each Ask runs
// on its own state record, so a single Orchestrator serves concurrent
// requests.
type Orchestrator struct {
	router      *IntentRouter
	rewriter    *Rewriter
	synthesizer *Synthesizer
	guard       *safety.Guard
	web         ports.WebSearcher
	audit       ports.AuditTrail
	cfg         OrchestratorConfig
	log         *slog.Logger
}

func NewOrchestrator(
	router *IntentRouter,
	rewriter *Rewriter,
	synthesizer *Synthesizer,
	guard *safety.Guard,
	web ports.WebSearcher,
	audit ports.AuditTrail,
	cfg OrchestratorConfig,
	log *slog.Logger,
) *Orchestrator {
	if cfg.MaxRewrites <= 0 {
		cfg.MaxRewrites = 2
	}
	if cfg.TopKCtx <= 0 {
		cfg.TopKCtx = defaultTopKCtx
	}
	if cfg.ConfidenceGate <= 0 {
		cfg.ConfidenceGate = defaultGate
	}
	if cfg.WebResults <= 0 {
		cfg.WebResults = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		router:      router,
		rewriter:    rewriter,
		synthesizer: synthesizer,
		guard:       guard,
		web:         web,
		audit:       audit,
		cfg:         cfg,
		log:         log,
	}
}

// Ask answers one question. requestID may be empty, in which case a fresh one
// is minted. The returned state always carries a Best payload and one trace
// entry per executed stage.
func (o *Orchestrator) Ask(ctx context.Context, requestID, question string, opts domain.AskOptions) (*domain.AgentState, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is empty"))
	}
	if opts.Mode != "" && opts.Mode != domain.AnswerModeMulti && opts.Mode != domain.AnswerModeMerge {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("unknown mode %q", opts.Mode))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	state := domain.NewAgentState(requestID, question)
	for stage := StageRouter; stage != StageEnd; stage = nextStage(stage, state.Intent) {
		o.runStage(ctx, stage, state, opts)
	}
	return state, nil
}

// runStage executes one stage and appends exactly one trace entry for it.
func (o *Orchestrator) runStage(ctx context.Context, stage Stage, state *domain.AgentState, opts domain.AskOptions) {
	started := time.Now()
	var detail map[string]any
	switch stage {
	case StageRouter:
		detail = o.stageRouter(ctx, state)
	case StageResearcher:
		detail = o.stageResearcher(ctx, state)
	case StageAnswerer:
		detail = o.stageAnswerer(ctx, state, opts)
	case StageWebSearch:
		detail = o.stageWebSearch(ctx, state)
	case StageCompliance:
		detail = o.stageCompliance(ctx, state)
	}
	if detail == nil {
		detail = map[string]any{}
	}
	detail["elapsed_ms"] = float64(time.Since(started).Microseconds()) / 1000.0
	state.AppendTrace(string(stage), detail)
}

func (o *Orchestrator) stageRouter(ctx context.Context, state *domain.AgentState) map[string]any {
	result := o.router.Classify(ctx, state.Question)
	state.Intent = result.Label
	return map[string]any{
		"intent":     string(result.Label),
		"confidence": result.Confidence,
		"reason":     result.Reason,
	}
}

func (o *Orchestrator) stageResearcher(ctx context.Context, state *domain.AgentState) map[string]any {
	rewrites, err := o.rewriter.Rewrite(ctx, state.Question, o.cfg.MaxRewrites)
	if err != nil {
		o.log.Warn("rewrite stage failed, answering the original only",
			"request_id", state.RequestID, "error", err)
		state.Rewrites = []string{state.Question}
		return map[string]any{"rewrites": 1, "error": err.Error()}
	}
	state.Rewrites = rewrites
	return map[string]any{"rewrites": len(rewrites)}
}

func (o *Orchestrator) stageAnswerer(ctx context.Context, state *domain.AgentState, opts domain.AskOptions) map[string]any {
	if state.Intent == domain.IntentChitchat {
		payload := o.synthesizer.Chitchat(ctx, state.Question)
		state.Best = &payload
		state.Answers = []domain.AnswerPayload{payload}
		return map[string]any{"mode": payload.Mode}
	}

	topKCtx := o.cfg.TopKCtx
	if opts.TopKCtx > 0 {
		topKCtx = opts.TopKCtx
	}
	result, err := o.synthesizer.AnswerMode(ctx, state.Question, state.Rewrites, opts.Mode, topKCtx, o.cfg.ConfidenceGate)
	if err != nil {
		o.log.Warn("answer stage failed, degrading to the no-evidence payload",
			"request_id", state.RequestID, "error", err)
		payload := noEvidencePayload()
		payload.Mode = o.synthesizer.Mode()
		if opts.Mode != "" {
			payload.Mode = opts.Mode
		}
		state.Best = &payload
		state.Answers = []domain.AnswerPayload{payload}
		return map[string]any{"mode": payload.Mode, "error": err.Error()}
	}
	best := result.Best
	state.Best = &best
	state.Answers = result.Answers
	return map[string]any{
		"mode":       best.Mode,
		"answers":    len(result.Answers),
		"candidates": result.Candidates,
		"confidence": best.Confidence,
	}
}

func (o *Orchestrator) stageWebSearch(ctx context.Context, state *domain.AgentState) map[string]any {
	var results []domain.WebResult
	var err error
	if o.web != nil {
		results, err = o.web.SearchWeb(ctx, state.Question, o.cfg.WebResults)
		if err != nil {
			o.log.Warn("web search failed", "request_id", state.RequestID, "error", err)
			results = nil
		}
	}
	state.WebResults = results

	payload := o.synthesizer.WebAnswer(ctx, state.Question, results)
	state.Best = &payload
	state.Answers = []domain.AnswerPayload{payload}

	detail := map[string]any{
		"results":    len(results),
		"confidence": payload.Confidence,
	}
	if err != nil {
		detail["error"] = err.Error()
	}
	return detail
}

func (o *Orchestrator) stageCompliance(ctx context.Context, state *domain.AgentState) map[string]any {
	if state.Best == nil {
		// Unreachable through the transition table.
		payload := noEvidencePayload()
		state.Best = &payload
	}
	checked := o.guard.CheckContent(*state.Best)
	state.Best = &checked

	detail := map[string]any{
		"level":   string(checked.Safety.Level),
		"blocked": checked.Safety.Blocked,
	}
	detail["audit"] = o.publishAudit(ctx, state, checked)
	return detail
}

// publishAudit emits the terminal audit record and reports the outcome for
// the compliance trace entry.
func (o *Orchestrator) publishAudit(ctx context.Context, state *domain.AgentState, final domain.AnswerPayload) string {
	if o.audit == nil {
		return "skipped"
	}
	record := domain.AuditRecord{
		ID:         uuid.NewString(),
		RequestID:  state.RequestID,
		Question:   state.Question,
		Intent:     state.Intent,
		Mode:       final.Mode,
		Answer:     final.Answer,
		Confidence: final.Confidence,
		Blocked:    final.Safety.Blocked,
		RiskScore:  final.Safety.RiskScore,
		DurationMS: float64(time.Since(state.StartedAt).Microseconds()) / 1000.0,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.audit.PublishAnswerAudited(ctx, record); err != nil {
		o.log.Warn("audit publish failed", "request_id", state.RequestID, "error", err)
		return "error"
	}
	return "published"
}
