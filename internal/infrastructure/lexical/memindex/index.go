package memindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
)

// Hits carry a snippet of the indexed text; stages that need the full chunk
// hydrate it from the chunk store.
const snippetChars = 400

// Index is an in-process BM25 ranking over the chunk corpus. Reload swaps the
// whole index under a write lock; searches take the read lock, so readers
// never block each other and never observe a half-built index.
type Index struct {
	store ports.ChunkStore
	log   *slog.Logger

	mu    sync.RWMutex
	ids   []string
	texts []string
	stats *bm25Stats
}

func New(store ports.ChunkStore, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{store: store, log: log}
}

// Reload rebuilds the index from every chunk in the store.
func (x *Index) Reload(ctx context.Context) error {
	chunks, err := x.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load lexical corpus: %w", err)
	}

	ids := make([]string, len(chunks))
	texts := make([]string, len(chunks))
	docTokens := make([][]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
		texts[i] = chunk.Text
		docTokens[i] = tokenize(chunk.Text)
	}
	stats := buildStats(docTokens)

	x.mu.Lock()
	x.ids = ids
	x.texts = texts
	x.stats = stats
	x.mu.Unlock()

	x.log.Info("lexical index reloaded", "chunks", len(chunks))
	return nil
}

// SearchLexical ranks chunks by BM25 score. Documents sharing no term with
// the query score zero and are not hits.
func (x *Index) SearchLexical(ctx context.Context, query string, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	x.mu.RLock()
	stats := x.stats
	ids := x.ids
	texts := x.texts
	x.mu.RUnlock()

	if stats == nil || len(ids) == 0 {
		return nil, nil
	}

	scores := stats.scores(queryTokens)
	ranked := make([]int, 0, len(scores))
	for i, score := range scores {
		if score > 0 {
			ranked = append(ranked, i)
		}
	}
	sort.Slice(ranked, func(a, b int) bool {
		if scores[ranked[a]] != scores[ranked[b]] {
			return scores[ranked[a]] > scores[ranked[b]]
		}
		return ranked[a] < ranked[b]
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	if len(ranked) == 0 {
		return nil, nil
	}

	hitIDs := make([]string, len(ranked))
	for i, idx := range ranked {
		hitIDs[i] = ids[idx]
	}
	metas, err := x.store.FetchMetadata(ctx, hitIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate lexical hits: %w", err)
	}

	hits := make([]domain.Hit, 0, len(ranked))
	for _, idx := range ranked {
		text := texts[idx]
		if len(text) > snippetChars {
			text = text[:snippetChars]
		}
		meta := metas[ids[idx]]
		hits = append(hits, domain.Hit{
			ID:      ids[idx],
			Text:    text,
			Section: meta.Section,
			Source:  meta.Source,
			Path:    meta.Path,
			Score:   scores[idx],
			Rank:    len(hits) + 1,
		})
	}
	return hits, nil
}
