package ports

import (
	"context"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// Embedder builds vectors for queries and candidate texts. Vectors are
// comparable by cosine similarity after caller-side normalization.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LexicalSearcher ranks chunks by a term-frequency relevance score.
type LexicalSearcher interface {
	SearchLexical(ctx context.Context, query string, topK int) ([]domain.Hit, error)
}

// VectorSearcher ranks chunks by similarity to a query embedding.
type VectorSearcher interface {
	SearchVector(ctx context.Context, queryVector []float32, topK int) ([]domain.Hit, error)
}

// Reranker scores (query, passage) pairs with a cross-encoder. Scores are
// paired by index with the input passages; higher is better; the caller sorts.
type Reranker interface {
	ScorePairs(ctx context.Context, query string, passages []string) ([]float64, error)
}

// Retriever is the hybrid search contract consumed by everything above it.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]domain.FusedHit, error)
}

// AnswerGenerator creates answer text. Contexts are untrusted content; prompt
// and system are trusted instructions.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string, contexts []string, system string) (string, error)
}

// Tokenizer counts model tokens for prompt budgeting and usage accounting.
type Tokenizer interface {
	CountTokens(text string) int
}

// IntentModel is the optional model-based intent classifier.
type IntentModel interface {
	ClassifyIntent(ctx context.Context, question string) (domain.IntentResult, error)
}

// WebSearcher queries an external web-search collaborator.
type WebSearcher interface {
	SearchWeb(ctx context.Context, query string, n int) ([]domain.WebResult, error)
}

// ChunkStore reads chunk text and metadata in id batches.
type ChunkStore interface {
	FetchFullText(ctx context.Context, ids []string) (map[string]string, error)
	FetchMetadata(ctx context.Context, ids []string) (map[string]domain.ChunkMeta, error)
	LoadAll(ctx context.Context) ([]domain.StoredChunk, error)
}

// VectorIndexWriter loads prepared chunks into the vector collection.
// vectors pair with chunks by index.
type VectorIndexWriter interface {
	UpsertChunks(ctx context.Context, chunks []domain.StoredChunk, vectors [][]float32) error
}

// AuditTrail publishes/consumes answer audit events.
type AuditTrail interface {
	PublishAnswerAudited(ctx context.Context, record domain.AuditRecord) error
	SubscribeAnswerAudited(ctx context.Context, handler func(context.Context, domain.AuditRecord) error) error
}

// AuditStore persists audit records.
type AuditStore interface {
	InsertRecord(ctx context.Context, record domain.AuditRecord) error
}

// SessionStore persists ask-session messages for history enrichment.
type SessionStore interface {
	AppendMessage(ctx context.Context, message domain.SessionMessage) error
	ListRecent(ctx context.Context, sessionID string, limit int) ([]domain.SessionMessage, error)
}
