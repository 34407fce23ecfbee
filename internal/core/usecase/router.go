package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
)

// Router modes.
const (
	RouterModeRules  = "rules"
	RouterModeModel  = "model"
	RouterModeHybrid = "hybrid"
)

// Default lexicons for the rule cascade. The domain set carries the
// legal vocabulary of the reference corpus; deployments override it
// through RouterConfig.
var (
	defaultDomainTerms = []string{
		"law", "legal", "act", "statute", "crime", "criminal", "civil",
		"constitution", "case law", "precedent", "penalty", "offence",
		"offense", "section", "article", "regulation", "clause", "court",
		"justice", "tribunal", "appeal", "ruling", "decision",
		"legislation", "policy",
	}
	defaultWebTerms = []string{
		"latest", "today", "news", "update", "current", "recent", "web",
		"online", "search", "happening", "trending", "breaking", "now",
		"live", "real-time",
	}
	defaultSmalltalkTerms = []string{
		"hello", "hi", "hey", "thanks", "thank you", "bye", "goodbye",
		"how are you", "what's up", "good morning", "good afternoon",
		"good evening",
	}
	defaultImperativeTerms = []string{
		"search", "find", "open", "check price", "watch",
	}
)

// RouterConfig tunes the intent router.
type RouterConfig struct {
	// Mode selects rules-only, model-only, or hybrid classification.
	Mode string
	// MinQueryWords is the word count at or below which a query with no
	// domain keyword defaults to chitchat.
	MinQueryWords int
	// MinConfidence gates the fused label; below it the rule result wins.
	MinConfidence float64

	DomainTerms     []string
	WebTerms        []string
	SmalltalkTerms  []string
	ImperativeTerms []string
}

// IntentRouter classifies questions with an ordered rule cascade and,
// in model or hybrid mode, fuses the rule result with a model-based
// classifier by declared confidence.
type IntentRouter struct {
	model ports.IntentModel
	cfg   RouterConfig
	log   *slog.Logger

	domainRe     *regexp.Regexp
	webRe        *regexp.Regexp
	smalltalkRe  *regexp.Regexp
	imperativeRe *regexp.Regexp
}

func NewIntentRouter(model ports.IntentModel, cfg RouterConfig, log *slog.Logger) *IntentRouter {
	if cfg.Mode == "" {
		cfg.Mode = RouterModeHybrid
	}
	if cfg.MinQueryWords <= 0 {
		cfg.MinQueryWords = 3
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.55
	}
	if len(cfg.DomainTerms) == 0 {
		cfg.DomainTerms = defaultDomainTerms
	}
	if len(cfg.WebTerms) == 0 {
		cfg.WebTerms = defaultWebTerms
	}
	if len(cfg.SmalltalkTerms) == 0 {
		cfg.SmalltalkTerms = defaultSmalltalkTerms
	}
	if len(cfg.ImperativeTerms) == 0 {
		cfg.ImperativeTerms = defaultImperativeTerms
	}
	if log == nil {
		log = slog.Default()
	}
	return &IntentRouter{
		model:        model,
		cfg:          cfg,
		log:          log,
		domainRe:     compileTermSet(cfg.DomainTerms),
		webRe:        compileTermSet(cfg.WebTerms),
		smalltalkRe:  compileTermSet(cfg.SmalltalkTerms),
		imperativeRe: compileTermSet(cfg.ImperativeTerms),
	}
}

// Classify routes a question to rag, web, or chitchat. It never fails:
// a model error falls back to the rule result.
func (r *IntentRouter) Classify(ctx context.Context, question string) domain.IntentResult {
	rules := r.rules(question)
	if r.cfg.Mode == RouterModeRules || r.model == nil {
		return rules
	}

	model, err := r.model.ClassifyIntent(ctx, question)
	if err != nil {
		r.log.Warn("model intent classification failed, using rules", "error", err)
		return rules
	}

	// Higher declared confidence wins; within 0.05 the model breaks the
	// tie. A winner below the floor falls back to the rules.
	var out domain.IntentResult
	switch {
	case model.Confidence >= rules.Confidence+0.05:
		out = model
	case rules.Confidence >= model.Confidence+0.05:
		out = rules
	default:
		out = model
	}
	if out.Confidence < r.cfg.MinConfidence {
		return rules
	}
	return out
}

func (r *IntentRouter) rules(question string) domain.IntentResult {
	t := strings.TrimSpace(question)

	if len(strings.Fields(t)) <= r.cfg.MinQueryWords && !r.domainRe.MatchString(t) {
		return domain.IntentResult{Label: domain.IntentChitchat, Confidence: 0.50, Reason: "very short query"}
	}
	if r.webRe.MatchString(t) {
		return domain.IntentResult{Label: domain.IntentWeb, Confidence: 0.80, Reason: "matched web keywords"}
	}
	if r.domainRe.MatchString(t) {
		return domain.IntentResult{Label: domain.IntentRAG, Confidence: 0.80, Reason: "matched domain keywords"}
	}
	if r.smalltalkRe.MatchString(t) {
		return domain.IntentResult{Label: domain.IntentChitchat, Confidence: 0.75, Reason: "matched smalltalk keywords"}
	}
	if strings.Contains(t, "http://") || strings.Contains(t, "https://") {
		return domain.IntentResult{Label: domain.IntentWeb, Confidence: 0.70, Reason: "contains URL"}
	}
	if strings.Contains(t, "?") {
		return domain.IntentResult{Label: domain.IntentRAG, Confidence: 0.60, Reason: "question form"}
	}
	if r.imperativeRe.MatchString(t) {
		return domain.IntentResult{Label: domain.IntentWeb, Confidence: 0.60, Reason: "imperative verb"}
	}
	return domain.IntentResult{Label: domain.IntentRAG, Confidence: 0.55, Reason: "default"}
}

func compileTermSet(terms []string) *regexp.Regexp {
	escaped := make([]string, len(terms))
	for i, t := range terms {
		escaped[i] = regexp.QuoteMeta(strings.ToLower(t))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(escaped, "|") + `)\b`)
}
