package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lawgraph/counsel/internal/core/domain"
	"github.com/lawgraph/counsel/internal/core/ports"
)

// IndexSyncConfig tunes the corpus-to-vector-collection sync.
type IndexSyncConfig struct {
	// BatchSize caps how many chunks go into one embed call and one upsert.
	BatchSize int
}

// IndexSyncer pushes prepared corpus rows into the vector collection.
// It reads the chunks table the offline preparation job writes and keeps
// the dense index in step with it; nothing here parses or splits documents.
type IndexSyncer struct {
	store    ports.ChunkStore
	embedder ports.Embedder
	writer   ports.VectorIndexWriter
	cfg      IndexSyncConfig
	log      *slog.Logger
}

func NewIndexSyncer(
	store ports.ChunkStore,
	embedder ports.Embedder,
	writer ports.VectorIndexWriter,
	cfg IndexSyncConfig,
	log *slog.Logger,
) *IndexSyncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &IndexSyncer{
		store:    store,
		embedder: embedder,
		writer:   writer,
		cfg:      cfg,
		log:      log,
	}
}

// Sync embeds the whole corpus batch by batch and upserts each batch into
// the vector collection. It returns how many chunks made it in; on error
// that count covers the batches already written.
func (s *IndexSyncer) Sync(ctx context.Context) (int, error) {
	chunks, err := s.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load corpus: %w", err)
	}
	if len(chunks) == 0 {
		s.log.Info("corpus is empty, nothing to sync")
		return 0, nil
	}

	synced := 0
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		vectors, err := s.embed(ctx, batch)
		if err != nil {
			return synced, err
		}
		if err := s.index(ctx, batch, vectors); err != nil {
			return synced, err
		}
		synced += len(batch)
		s.log.Info("corpus batch indexed", "synced", synced, "total", len(chunks))
	}
	return synced, nil
}

func (s *IndexSyncer) embed(ctx context.Context, chunks []domain.StoredChunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (s *IndexSyncer) index(ctx context.Context, chunks []domain.StoredChunk, vectors [][]float32) error {
	if err := s.writer.UpsertChunks(ctx, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks in vector db: %w", err)
	}
	return nil
}
