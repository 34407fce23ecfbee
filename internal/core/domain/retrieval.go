package domain

// Hit is one scored retrieval result. Score is adapter-specific: cosine
// similarity from the vector index, BM25 from the lexical index, fused RRF
// after fusion, or a cross-encoder score after rerank. Exactly one of those is
// authoritative at any pipeline stage. Rank is 1-based and strictly increasing
// within a single adapter's output, consistent with descending Score.
type Hit struct {
	ID      string  `json:"chunk_id"`
	Text    string  `json:"text,omitempty"`
	Section string  `json:"section,omitempty"`
	Source  string  `json:"source,omitempty"`
	Path    string  `json:"path,omitempty"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// FusedHit is a Hit after reciprocal-rank fusion. FusedScore keeps the RRF
// value even when a later rerank overwrites Score, so confidence scoring can
// fall back to it. A given (ID, Source) pair appears at most once in fused
// output.
type FusedHit struct {
	Hit
	FusedScore float64 `json:"fused_score"`
	CEScore    float64 `json:"ce_score,omitempty"`
	Reranked   bool    `json:"-"`
}

// FusionKey identifies a chunk across the lexical and vector rankings.
func (h Hit) FusionKey() string {
	return h.ID + "\x00" + h.Source
}

// ChunkMeta is the descriptive metadata held by the chunk store.
type ChunkMeta struct {
	Section string `json:"section"`
	Source  string `json:"source"`
	Path    string `json:"path"`
}

// StoredChunk is one corpus row, as loaded for lexical index builds and
// vector index sync.
type StoredChunk struct {
	ID   string
	Text string
	Meta ChunkMeta
}
