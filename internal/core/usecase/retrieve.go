package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
)

// RetrievalConfig tunes the hybrid retriever.
type RetrievalConfig struct {
	// KVector and KLexical are the candidate counts fetched from each leg
	// before fusion.
	KVector  int
	KLexical int
	RRFK     int
	// Rerank enables cross-encoder reranking of the fused candidates.
	Rerank          bool
	RerankK         int
	MaxPassageChars int
	DefaultTopK     int
}

// HybridRetriever runs the lexical and vector legs concurrently, fuses
// them with RRF, and optionally reranks the head with a cross-encoder.
type HybridRetriever struct {
	embedder ports.Embedder
	vector   ports.VectorSearcher
	lexical  ports.LexicalSearcher
	reranker ports.Reranker
	store    ports.ChunkStore
	cfg      RetrievalConfig
	log      *slog.Logger
}

func NewHybridRetriever(
	embedder ports.Embedder,
	vector ports.VectorSearcher,
	lexical ports.LexicalSearcher,
	reranker ports.Reranker,
	store ports.ChunkStore,
	cfg RetrievalConfig,
	log *slog.Logger,
) *HybridRetriever {
	if cfg.KVector <= 0 {
		cfg.KVector = 40
	}
	if cfg.KLexical <= 0 {
		cfg.KLexical = 40
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = defaultRRFK
	}
	if cfg.RerankK <= 0 {
		cfg.RerankK = 20
	}
	if cfg.MaxPassageChars <= 0 {
		cfg.MaxPassageChars = 1200
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &HybridRetriever{
		embedder: embedder,
		vector:   vector,
		lexical:  lexical,
		reranker: reranker,
		store:    store,
		cfg:      cfg,
		log:      log,
	}
}

// Search returns the fused (and, when enabled, reranked) candidates for
// query. One failed leg degrades to a single-list ranking; both legs
// failing is an error. Zero hits is a valid empty result.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int) ([]domain.FusedHit, error) {
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}

	var (
		wg          sync.WaitGroup
		vectorHits  []domain.Hit
		lexicalHits []domain.Hit
		vectorErr   error
		lexicalErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = r.searchVector(ctx, query)
	}()
	go func() {
		defer wg.Done()
		lexicalHits, lexicalErr = r.lexical.SearchLexical(ctx, query, r.cfg.KLexical)
	}()
	wg.Wait()

	if vectorErr != nil && lexicalErr != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "hybrid search", errors.Join(vectorErr, lexicalErr))
	}
	if vectorErr != nil {
		r.log.Warn("vector leg failed, degrading to lexical ranking", "error", vectorErr)
	}
	if lexicalErr != nil {
		r.log.Warn("lexical leg failed, degrading to vector ranking", "error", lexicalErr)
	}

	if !r.rerankEnabled() {
		return fuseHitsRRF(vectorHits, lexicalHits, r.cfg.RRFK, topK), nil
	}

	fused := fuseHitsRRF(vectorHits, lexicalHits, r.cfg.RRFK, r.cfg.RerankK)
	if len(fused) == 0 {
		return fused, nil
	}
	return r.rerank(ctx, query, fused, topK), nil
}

func (r *HybridRetriever) searchVector(ctx context.Context, query string) ([]domain.Hit, error) {
	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.vector.SearchVector(ctx, queryVector, r.cfg.KVector)
}

func (r *HybridRetriever) rerankEnabled() bool {
	return r.cfg.Rerank && r.reranker != nil && r.store != nil
}

// rerank scores (query, full text) pairs with the cross-encoder and
// reorders the candidates by that score, which becomes authoritative.
// Any failure keeps the fused order instead.
func (r *HybridRetriever) rerank(ctx context.Context, query string, fused []domain.FusedHit, topK int) []domain.FusedHit {
	ids := make([]string, 0, len(fused))
	for _, h := range fused {
		ids = append(ids, h.ID)
	}
	fullTexts, err := r.store.FetchFullText(ctx, ids)
	if err != nil {
		r.log.Warn("full text hydration failed, keeping fused order", "error", err)
		return truncateFused(fused, topK)
	}

	passages := make([]string, len(fused))
	for i, h := range fused {
		text := h.Text
		if full, ok := fullTexts[h.ID]; ok && full != "" {
			text = full
		}
		passages[i] = truncateChars(text, r.cfg.MaxPassageChars)
	}

	scores, err := r.reranker.ScorePairs(ctx, query, passages)
	if err != nil {
		r.log.Warn("rerank failed, keeping fused order", "error", err)
		return truncateFused(fused, topK)
	}
	if len(scores) != len(fused) {
		r.log.Warn("rerank score count mismatch, keeping fused order",
			"scores", len(scores), "candidates", len(fused))
		return truncateFused(fused, topK)
	}

	reranked := make([]domain.FusedHit, len(fused))
	copy(reranked, fused)
	for i := range reranked {
		reranked[i].CEScore = scores[i]
		reranked[i].Score = scores[i]
		reranked[i].Reranked = true
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		if reranked[i].CEScore != reranked[j].CEScore {
			return reranked[i].CEScore > reranked[j].CEScore
		}
		if reranked[i].ID != reranked[j].ID {
			return reranked[i].ID < reranked[j].ID
		}
		return reranked[i].Source < reranked[j].Source
	})
	return truncateFused(reranked, topK)
}

func truncateFused(hits []domain.FusedHit, topK int) []domain.FusedHit {
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits
}

func truncateChars(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
