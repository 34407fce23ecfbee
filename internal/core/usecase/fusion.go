package usecase

import (
	"sort"

	"github.com/lawgraph/counsel/internal/core/domain"
)

const defaultRRFK = 60

// fuseHitsRRF merges a vector ranking and a lexical ranking with
// reciprocal rank fusion. Each list contributes 1/(k + rank) per item,
// rank being the 1-based position within that list. Items are
// deduplicated by (id, source); the first-seen copy keeps its fields.
// The result is sorted by fused score descending, truncated to topK,
// and re-ranked 1..n.
func fuseHitsRRF(vector, lexical []domain.Hit, rrfK, topK int) []domain.FusedHit {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]*domain.FusedHit, len(vector)+len(lexical))
	order := make([]string, 0, len(vector)+len(lexical))
	addList := func(hits []domain.Hit) {
		for i, h := range hits {
			key := h.FusionKey()
			fused, ok := acc[key]
			if !ok {
				fused = &domain.FusedHit{Hit: h}
				acc[key] = fused
				order = append(order, key)
			}
			fused.FusedScore += 1.0 / float64(rrfK+i+1)
		}
	}

	addList(vector)
	addList(lexical)

	out := make([]domain.FusedHit, 0, len(acc))
	for _, key := range order {
		fused := *acc[key]
		fused.Score = fused.FusedScore
		out = append(out, fused)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Source < out[j].Source
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
