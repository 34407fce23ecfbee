package overlap

import (
	"context"
	"strings"
	"unicode"
)

// Scorer ranks passages by query token overlap. It is the in-process
// alternative to the cross-encoder service: a much weaker signal, but it
// needs no deployment and never fails.
type Scorer struct{}

func New() *Scorer {
	return &Scorer{}
}

// ScorePairs returns, for each passage, the fraction of query tokens the
// passage contains. Scores are in [0, 1]; higher is better.
func (s *Scorer) ScorePairs(_ context.Context, query string, passages []string) ([]float64, error) {
	queryTokens := tokenSet(query)
	scores := make([]float64, len(passages))
	for i, passage := range passages {
		scores[i] = overlap(queryTokens, tokenSet(passage))
	}
	return scores, nil
}

func overlap(query, passage map[string]struct{}) float64 {
	if len(query) == 0 || len(passage) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := passage[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func tokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
