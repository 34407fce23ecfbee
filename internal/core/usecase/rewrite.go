package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
)

// RewriteConfig tunes the question rewriter.
type RewriteConfig struct {
	// SimilarityThreshold is the cosine similarity at or above which a
	// candidate is dropped as a near-duplicate of a kept one.
	SimilarityThreshold float64
	// ProbeTopK is the retrieval depth used to score rewrites for the
	// retrieval-aware ordering pass.
	ProbeTopK int
}

// Rewriter expands a question into retrieval-friendly alternatives.
// Every stage fails open: generation failure returns just the original,
// dedup or ordering failure keeps the previous stage's list.
type Rewriter struct {
	generator ports.AnswerGenerator
	embedder  ports.Embedder
	retriever ports.Retriever
	cfg       RewriteConfig
	log       *slog.Logger
}

func NewRewriter(
	generator ports.AnswerGenerator,
	embedder ports.Embedder,
	retriever ports.Retriever,
	cfg RewriteConfig,
	log *slog.Logger,
) *Rewriter {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.92
	}
	if cfg.ProbeTopK <= 0 {
		cfg.ProbeTopK = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Rewriter{
		generator: generator,
		embedder:  embedder,
		retriever: retriever,
		cfg:       cfg,
		log:       log,
	}
}

// Rewrite returns the original question followed by up to maxRewrites
// alternatives, most retrieval-productive first. The first element is
// always the original question.
func (r *Rewriter) Rewrite(ctx context.Context, question string, maxRewrites int) ([]string, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rewrite question", fmt.Errorf("question is empty"))
	}
	if maxRewrites <= 0 {
		maxRewrites = 3
	}

	text, err := r.generator.Generate(ctx, buildRewritePrompt(q, maxRewrites), nil, rewriteSystemPrompt)
	if err != nil {
		r.log.Warn("rewrite generation failed, using original question", "error", err)
		return []string{q}, nil
	}

	candidates := append([]string{q}, parseRewriteLines(q, text)...)
	candidates = r.dedupeSemantic(ctx, candidates)
	candidates = r.orderByRetrieval(ctx, candidates)
	if len(candidates) > maxRewrites+1 {
		candidates = candidates[:maxRewrites+1]
	}
	return candidates, nil
}

// parseRewriteLines splits generator output into one rewrite per line,
// strips bullet artifacts, and drops case-insensitive duplicates of the
// original or of an earlier line.
func parseRewriteLines(original, text string) []string {
	seen := map[string]struct{}{strings.ToLower(original): {}}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.Trim(line, "- •\t"))
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
	}
	return out
}

// dedupeSemantic embeds all candidates and greedily keeps one only if
// its cosine similarity to every kept candidate stays below the
// threshold. The original (index 0) is always kept.
func (r *Rewriter) dedupeSemantic(ctx context.Context, queries []string) []string {
	if len(queries) <= 1 {
		return queries
	}
	vecs, err := r.embedder.Embed(ctx, queries)
	if err != nil || len(vecs) != len(queries) {
		r.log.Warn("rewrite embedding failed, skipping semantic dedup", "error", err)
		return queries
	}

	kept := []int{0}
	for i := 1; i < len(queries); i++ {
		maxSim := 0.0
		for _, j := range kept {
			if sim := cosineSimilarity(vecs[i], vecs[j]); sim > maxSim {
				maxSim = sim
			}
		}
		if maxSim < r.cfg.SimilarityThreshold {
			kept = append(kept, i)
		}
	}

	out := make([]string, 0, len(kept))
	for _, i := range kept {
		out = append(out, queries[i])
	}
	return out
}

// orderByRetrieval probes the retriever with each rewrite and sorts the
// rewrites by their best hit score so the strongest is tried first. The
// original stays pinned at index 0.
func (r *Rewriter) orderByRetrieval(ctx context.Context, queries []string) []string {
	if len(queries) <= 2 {
		return queries
	}

	type scoredQuery struct {
		query string
		score float64
	}
	rest := make([]scoredQuery, 0, len(queries)-1)
	for _, q := range queries[1:] {
		hits, err := r.retriever.Search(ctx, q, r.cfg.ProbeTopK)
		if err != nil {
			r.log.Warn("retrieval probe failed, keeping rewrite order", "error", err)
			return queries
		}
		best := 0.0
		if len(hits) > 0 {
			best = hits[0].Score
		}
		rest = append(rest, scoredQuery{query: q, score: best})
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].score > rest[j].score })

	out := make([]string, 0, len(queries))
	out = append(out, queries[0])
	for _, s := range rest {
		out = append(out, s.query)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(normA)*math.Sqrt(normB) + 1e-12)
}
