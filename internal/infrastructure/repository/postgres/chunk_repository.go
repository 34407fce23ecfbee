package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// fetchBatchSize caps the number of ids bound into a single IN list.
const fetchBatchSize = 999

// ChunkRepository reads the corpus chunks the retrieval pipeline was indexed
// from. Rows are written by the offline indexing job; this side only reads.
type ChunkRepository struct {
	db *sql.DB
}

func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

func (r *ChunkRepository) FetchFullText(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := r.fetchTextBatch(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ChunkRepository) fetchTextBatch(ctx context.Context, ids []string, out map[string]string) error {
	query := fmt.Sprintf(`SELECT id, text FROM chunks WHERE id IN (%s)`, placeholderList(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("fetch chunk texts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return fmt.Errorf("scan chunk text: %w", err)
		}
		out[id] = text
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chunk texts: %w", err)
	}
	return nil
}

func (r *ChunkRepository) FetchMetadata(ctx context.Context, ids []string) (map[string]domain.ChunkMeta, error) {
	out := make(map[string]domain.ChunkMeta, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for start := 0; start < len(ids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := r.fetchMetaBatch(ctx, ids[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *ChunkRepository) fetchMetaBatch(ctx context.Context, ids []string, out map[string]domain.ChunkMeta) error {
	query := fmt.Sprintf(`SELECT id, section, source, path FROM chunks WHERE id IN (%s)`, placeholderList(len(ids)))
	rows, err := r.db.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return fmt.Errorf("fetch chunk metadata: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var meta domain.ChunkMeta
		if err := rows.Scan(&id, &meta.Section, &meta.Source, &meta.Path); err != nil {
			return fmt.Errorf("scan chunk metadata: %w", err)
		}
		out[id] = meta
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chunk metadata: %w", err)
	}
	return nil
}

func (r *ChunkRepository) LoadAll(ctx context.Context) ([]domain.StoredChunk, error) {
	// Stable corpus order keeps score tie-breaks deterministic across reloads.
	rows, err := r.db.QueryContext(ctx, `SELECT id, text, section, source, path FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StoredChunk, 0)
	for rows.Next() {
		var chunk domain.StoredChunk
		if err := rows.Scan(&chunk.ID, &chunk.Text, &chunk.Meta.Section, &chunk.Meta.Source, &chunk.Meta.Path); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// placeholderList renders "$1,$2,...,$n".
func placeholderList(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteByte(',')
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(i))
	}
	return b.String()
}

func idArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
