package ports

import (
	"context"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// QuestionService is the inbound contract for the full ask pipeline: route,
// research, answer, comply. The returned state carries Best and the trace.
// requestID may be empty; the service mints one. Zero-value options use the
// configured defaults.
type QuestionService interface {
	Ask(ctx context.Context, requestID, question string, opts domain.AskOptions) (*domain.AgentState, error)
}

// CorpusIndexer syncs the prepared chunk rows into the vector collection.
// Sync reports how many chunks were written.
type CorpusIndexer interface {
	Sync(ctx context.Context) (int, error)
}
