package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
	"github.com/lawgraph/counsel/internal/core/safety"
)

// NoEvidenceAnswer is the canned reply when retrieval finds nothing usable.
const NoEvidenceAnswer = "I don't have enough information in the provided corpus to answer that."

const (
	defaultTopKCtx     = 8
	defaultGate        = 0.65
	defaultTokenBudget = 3072
	maxCitations       = 5
	minRetrievalDepth  = 10

	refusalConfidence  = 0.2
	chitchatConfidence = 0.5
	webConfidence      = 0.7

	confidenceFloor = 0.35
	confidenceSpan  = 0.55
	confidenceCeil  = 0.90
)

type SynthesizerConfig struct {
	// Mode selects the synthesis strategy: AnswerModeMulti answers every
	// query separately, AnswerModeMerge pools retrieval into one generation.
	Mode            string
	TopKCtx         int
	ConfidenceGate  float64
	MaxPromptTokens int
}

// Synthesizer turns a question and its rewrites into answer payloads. Every
// grounded answer passes through the safety guard's preflight and postflight;
// the merge strategy skips them and relies on the terminal content check.
type Synthesizer struct {
	retriever ports.Retriever
	store     ports.ChunkStore
	generator ports.AnswerGenerator
	tokenizer ports.Tokenizer
	guard     *safety.Guard
	cfg       SynthesizerConfig
	log       *slog.Logger
}

// SynthesisResult carries the winning payload, every per-query payload, and
// the candidate count behind the winner for observability.
type SynthesisResult struct {
	Best       domain.AnswerPayload
	Answers    []domain.AnswerPayload
	Candidates int
}

func NewSynthesizer(
	retriever ports.Retriever,
	store ports.ChunkStore,
	generator ports.AnswerGenerator,
	tokenizer ports.Tokenizer,
	guard *safety.Guard,
	cfg SynthesizerConfig,
	log *slog.Logger,
) *Synthesizer {
	if cfg.Mode == "" {
		cfg.Mode = domain.AnswerModeMulti
	}
	if cfg.TopKCtx <= 0 {
		cfg.TopKCtx = defaultTopKCtx
	}
	if cfg.ConfidenceGate <= 0 {
		cfg.ConfidenceGate = defaultGate
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = defaultTokenBudget
	}
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{
		retriever: retriever,
		store:     store,
		generator: generator,
		tokenizer: tokenizer,
		guard:     guard,
		cfg:       cfg,
		log:       log,
	}
}

// Mode reports the configured synthesis strategy.
func (s *Synthesizer) Mode() string {
	return s.cfg.Mode
}

// Answer runs the configured strategy over the question and its rewrites.
// The rewriter's output already leads with the original question; bare rewrite
// lists get the original prepended.
func (s *Synthesizer) Answer(ctx context.Context, question string, rewrites []string, topKCtx int, gate float64) (SynthesisResult, error) {
	return s.AnswerMode(ctx, question, rewrites, "", topKCtx, gate)
}

// AnswerMode is Answer with a per-request strategy override. An empty mode
// falls back to the configured one.
func (s *Synthesizer) AnswerMode(ctx context.Context, question string, rewrites []string, mode string, topKCtx int, gate float64) (SynthesisResult, error) {
	if strings.TrimSpace(question) == "" {
		return SynthesisResult{}, domain.WrapError(domain.ErrInvalidInput, "synthesize answer", fmt.Errorf("question is empty"))
	}
	if mode == "" {
		mode = s.cfg.Mode
	}
	if mode != domain.AnswerModeMulti && mode != domain.AnswerModeMerge {
		return SynthesisResult{}, domain.WrapError(domain.ErrInvalidInput, "synthesize answer", fmt.Errorf("unknown mode %q", mode))
	}
	if topKCtx <= 0 {
		topKCtx = s.cfg.TopKCtx
	}
	if gate <= 0 {
		gate = s.cfg.ConfidenceGate
	}
	queries := queryPlan(question, rewrites)
	if mode == domain.AnswerModeMerge {
		return s.answerMerge(ctx, queries, topKCtx)
	}
	return s.answerMulti(ctx, queries, topKCtx, gate)
}

// answerMulti answers each query in order and keeps the highest-confidence
// payload. Once the original question alone clears the gate, no rewrite is
// consulted.
func (s *Synthesizer) answerMulti(ctx context.Context, queries []string, topKCtx int, gate float64) (SynthesisResult, error) {
	var result SynthesisResult
	bestConfidence := -1.0
	var failures []error
	for i, query := range queries {
		payload, candidates, err := s.answerOne(ctx, query, topKCtx)
		if err != nil {
			s.log.Warn("answer attempt failed", "query_index", i, "error", err)
			failures = append(failures, err)
			continue
		}
		payload.Mode = domain.AnswerModeMulti
		payload.Rewrite = query
		result.Answers = append(result.Answers, payload)
		if payload.Confidence > bestConfidence {
			bestConfidence = payload.Confidence
			result.Best = payload
			result.Candidates = candidates
		}
		if i == 0 && payload.Confidence >= gate {
			break
		}
	}
	if len(result.Answers) == 0 {
		return SynthesisResult{}, domain.WrapError(domain.ErrTemporary, "synthesize answer", errors.Join(failures...))
	}
	return result, nil
}

// answerOne is one retrieve-generate round for a single query. Generation
// failure degrades to an empty answer; only retrieval failure is an error.
func (s *Synthesizer) answerOne(ctx context.Context, query string, topKCtx int) (domain.AnswerPayload, int, error) {
	depth := topKCtx
	if depth < minRetrievalDepth {
		depth = minRetrievalDepth
	}
	hits, err := s.retriever.Search(ctx, query, depth)
	if err != nil {
		return domain.AnswerPayload{}, 0, fmt.Errorf("retrieve %q: %w", query, err)
	}
	if len(hits) == 0 {
		return noEvidencePayload(), 0, nil
	}

	ctxHits := hits
	if len(ctxHits) > topKCtx {
		ctxHits = ctxHits[:topKCtx]
	}
	fullTexts := s.hydrate(ctx, ctxHits)

	blocked, preInfo, sanitized := s.guard.Preflight(query, fullTexts)
	if blocked {
		return domain.AnswerPayload{
			Answer:     safety.RefusalPreflight,
			Confidence: refusalConfidence,
			Safety:     preInfo,
		}, len(hits), nil
	}

	prompt := buildUserPrompt(query)
	blocks := buildContextBlocks(ctxHits, sanitized, topKCtx)
	blocks = s.trimToTokenBudget(answerSystemRules, prompt, blocks)

	text, err := s.generator.Generate(ctx, prompt, blocks, answerSystemRules)
	if err != nil {
		s.log.Warn("generation failed, continuing with empty answer", "error", err)
		text = ""
	}

	final, postBlocked, postInfo := s.guard.Postflight(text)
	if postBlocked {
		return domain.AnswerPayload{
			Answer:     safety.RefusalPreflight,
			Confidence: refusalConfidence,
			Safety:     postInfo,
		}, len(hits), nil
	}

	payload := domain.AnswerPayload{
		Answer:     strings.TrimSpace(final),
		Citations:  defaultCitations(hits, min(maxCitations, topKCtx)),
		Confidence: confidenceFromHits(hits),
		Safety:     postInfo,
	}
	return s.guard.MergePreflight(payload, preInfo), len(hits), nil
}

// answerMerge pools retrieval across all queries, deduplicates by chunk id
// keeping the first occurrence, and issues a single generation over the merged
// context. The terminal content check covers safety for this path.
func (s *Synthesizer) answerMerge(ctx context.Context, queries []string, topKCtx int) (SynthesisResult, error) {
	depth := topKCtx
	if depth < minRetrievalDepth {
		depth = minRetrievalDepth
	}
	var pooled []domain.FusedHit
	seen := make(map[string]bool)
	var failures []error
	for i, query := range queries {
		hits, err := s.retriever.Search(ctx, query, depth)
		if err != nil {
			s.log.Warn("merge retrieval leg failed", "query_index", i, "error", err)
			failures = append(failures, err)
			continue
		}
		for _, h := range hits {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			pooled = append(pooled, h)
		}
	}
	if len(failures) == len(queries) && len(queries) > 0 {
		return SynthesisResult{}, domain.WrapError(domain.ErrTemporary, "synthesize answer", errors.Join(failures...))
	}
	original := queries[0]
	if len(pooled) == 0 {
		payload := noEvidencePayload()
		payload.Mode = domain.AnswerModeMerge
		payload.Rewrite = original
		return SynthesisResult{Best: payload, Answers: []domain.AnswerPayload{payload}}, nil
	}

	sort.SliceStable(pooled, func(i, j int) bool {
		if pooled[i].Score != pooled[j].Score {
			return pooled[i].Score > pooled[j].Score
		}
		return pooled[i].ID < pooled[j].ID
	})
	ctxHits := pooled
	if len(ctxHits) > topKCtx {
		ctxHits = ctxHits[:topKCtx]
	}
	fullTexts := s.hydrate(ctx, ctxHits)

	prompt := buildUserPrompt(original)
	blocks := buildContextBlocks(ctxHits, fullTexts, topKCtx)
	blocks = s.trimToTokenBudget(answerSystemRules, prompt, blocks)

	text, err := s.generator.Generate(ctx, prompt, blocks, answerSystemRules)
	if err != nil {
		s.log.Warn("generation failed, continuing with empty answer", "error", err)
		text = ""
	}
	payload := domain.AnswerPayload{
		Answer:     strings.TrimSpace(text),
		Citations:  defaultCitations(pooled, min(maxCitations, topKCtx)),
		Confidence: confidenceFromHits(pooled),
		Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
		Mode:       domain.AnswerModeMerge,
		Rewrite:    original,
	}
	return SynthesisResult{
		Best:       payload,
		Answers:    []domain.AnswerPayload{payload},
		Candidates: len(pooled),
	}, nil
}

// Chitchat answers casual intents with one ungrounded generation.
func (s *Synthesizer) Chitchat(ctx context.Context, question string) domain.AnswerPayload {
	text, err := s.generator.Generate(ctx, question, nil, chitchatSystemPrompt)
	if err != nil {
		s.log.Warn("chitchat generation failed", "error", err)
		text = ""
	}
	return domain.AnswerPayload{
		Answer:     strings.TrimSpace(text),
		Confidence: chitchatConfidence,
		Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
		Mode:       domain.AnswerModeChitchat,
	}
}

// WebAnswer summarizes web-search results into a payload with URL citations.
func (s *Synthesizer) WebAnswer(ctx context.Context, question string, results []domain.WebResult) domain.AnswerPayload {
	if len(results) == 0 {
		return domain.AnswerPayload{
			Answer:     fmt.Sprintf("Sorry, I couldn't find any web results for '%s'.", question),
			Confidence: 0,
			Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
			Mode:       domain.AnswerModeWeb,
		}
	}
	lines := make([]string, 0, len(results))
	citations := make([]domain.Citation, 0, len(results))
	for _, r := range results {
		lines = append(lines, r.Title+": "+r.Snippet)
		if r.URL != "" {
			citations = append(citations, domain.Citation{URL: r.URL, Title: r.Title})
		}
	}
	text, err := s.generator.Generate(ctx, buildWebSummaryPrompt(question), lines, webSummarySystemPrompt)
	if err != nil {
		s.log.Warn("web summary generation failed", "error", err)
		text = ""
	}
	return domain.AnswerPayload{
		Answer:     strings.TrimSpace(text),
		Citations:  citations,
		Confidence: webConfidence,
		Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
		Mode:       domain.AnswerModeWeb,
	}
}

// hydrate fetches full passage texts for the context hits, falling back to
// the retrieval snippets when the store is unavailable.
func (s *Synthesizer) hydrate(ctx context.Context, hits []domain.FusedHit) map[string]string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	fullTexts, err := s.store.FetchFullText(ctx, ids)
	if err != nil {
		s.log.Warn("full-text hydration failed, falling back to hit snippets", "error", err)
		fullTexts = make(map[string]string, len(hits))
		for _, h := range hits {
			fullTexts[h.ID] = h.Text
		}
	}
	return fullTexts
}

// trimToTokenBudget drops trailing context blocks until the assembled prompt
// fits the model budget. The highest-ranked blocks survive; at least one block
// always remains.
func (s *Synthesizer) trimToTokenBudget(system, prompt string, blocks []string) []string {
	if len(blocks) == 0 {
		return blocks
	}
	total := s.countTokens(system) + s.countTokens(prompt)
	counts := make([]int, len(blocks))
	for i, b := range blocks {
		counts[i] = s.countTokens(b)
		total += counts[i]
	}
	kept := len(blocks)
	for kept > 1 && total > s.cfg.MaxPromptTokens {
		kept--
		total -= counts[kept]
	}
	if kept < len(blocks) {
		s.log.Debug("context trimmed to token budget",
			"dropped", len(blocks)-kept,
			"budget", s.cfg.MaxPromptTokens,
		)
	}
	return blocks[:kept]
}

// countTokens estimates roughly four characters per token when no encoding
// is wired in.
func (s *Synthesizer) countTokens(text string) int {
	if s.tokenizer != nil {
		return s.tokenizer.CountTokens(text)
	}
	return len(text) / 4
}

// queryPlan normalizes the rewrite list into the ordered queries to answer,
// original question first.
func queryPlan(question string, rewrites []string) []string {
	if len(rewrites) > 0 && rewrites[0] == question {
		return rewrites
	}
	queries := make([]string, 0, len(rewrites)+1)
	queries = append(queries, question)
	for _, r := range rewrites {
		if r != question {
			queries = append(queries, r)
		}
	}
	return queries
}

func noEvidencePayload() domain.AnswerPayload {
	return domain.AnswerPayload{
		Answer:     NoEvidenceAnswer,
		Confidence: confidenceFloor,
		Safety:     domain.SafetyInfo{Level: domain.SafetyLevelSafe},
	}
}

func defaultCitations(hits []domain.FusedHit, limit int) []domain.Citation {
	if limit > len(hits) {
		limit = len(hits)
	}
	citations := make([]domain.Citation, 0, limit)
	for _, h := range hits[:limit] {
		citations = append(citations, domain.Citation{
			ChunkID: h.ID,
			Source:  h.Source,
			Path:    h.Path,
			Section: h.Section,
		})
	}
	return citations
}

// confidenceFromHits maps retrieval strength onto answer confidence. Hits are
// sorted by their authoritative score, so the top five carry the signal.
func confidenceFromHits(hits []domain.FusedHit) float64 {
	if len(hits) == 0 {
		return confidenceFloor
	}
	n := min(5, len(hits))
	scores := make([]float64, n)
	for i := 0; i < n; i++ {
		scores[i] = hits[i].Score
	}
	mean := 0.0
	for _, v := range normalizeScores(scores) {
		mean += v
	}
	mean /= float64(n)
	c := confidenceFloor + confidenceSpan*mean
	if c < confidenceFloor {
		c = confidenceFloor
	}
	if c > confidenceCeil {
		c = confidenceCeil
	}
	return c
}

// normalizeScores min-max normalizes in place. A flat ranking reads as strong
// agreement, not zero signal, so near-identical scores all map to 1.0.
func normalizeScores(scores []float64) []float64 {
	lo, hi := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < 1e-9 {
		for i := range scores {
			scores[i] = 1.0
		}
		return scores
	}
	for i := range scores {
		scores[i] = (scores[i] - lo) / (hi - lo)
	}
	return scores
}
