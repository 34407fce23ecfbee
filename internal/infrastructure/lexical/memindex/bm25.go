package memindex

import (
	"math"
	"regexp"
	"strings"
)

// Okapi BM25 parameters. Epsilon floors the idf of terms that appear in more
// than half the corpus, which would otherwise go negative and subtract from
// the score of every document containing them.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var wordPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

type bm25Stats struct {
	docTermFreqs []map[string]int
	docLens      []int
	avgDocLen    float64
	idf          map[string]float64
}

func buildStats(docTokens [][]string) *bm25Stats {
	n := len(docTokens)
	stats := &bm25Stats{
		docTermFreqs: make([]map[string]int, n),
		docLens:      make([]int, n),
		idf:          make(map[string]float64, 256),
	}

	docCount := make(map[string]int, 256)
	totalLen := 0
	for i, tokens := range docTokens {
		stats.docLens[i] = len(tokens)
		totalLen += len(tokens)

		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		stats.docTermFreqs[i] = freqs
		for term := range freqs {
			docCount[term]++
		}
	}
	if n > 0 {
		stats.avgDocLen = float64(totalLen) / float64(n)
	}

	idfSum := 0.0
	negative := make([]string, 0, 8)
	for term, df := range docCount {
		idf := math.Log(float64(n)-float64(df)+0.5) - math.Log(float64(df)+0.5)
		stats.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(stats.idf) > 0 {
		floor := bm25Epsilon * (idfSum / float64(len(stats.idf)))
		for _, term := range negative {
			stats.idf[term] = floor
		}
	}
	return stats
}

// scores returns one BM25 score per corpus document for the query tokens.
func (s *bm25Stats) scores(queryTokens []string) []float64 {
	out := make([]float64, len(s.docTermFreqs))
	if s.avgDocLen == 0 {
		return out
	}

	for _, q := range queryTokens {
		idf, ok := s.idf[q]
		if !ok {
			continue
		}
		for i, freqs := range s.docTermFreqs {
			tf := float64(freqs[q])
			if tf == 0 {
				continue
			}
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(s.docLens[i])/s.avgDocLen)
			out[i] += idf * (tf * (bm25K1 + 1)) / norm
		}
	}
	return out
}
