package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// AuditRepository persists one row per answered question, written by the
// worker from the audit subject.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) InsertRecord(ctx context.Context, record domain.AuditRecord) error {
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	// The queue delivers at least once; the id keeps replays idempotent.
	_, err := r.db.ExecContext(ctx, `
INSERT INTO answer_audit (
	id, request_id, question, intent, mode, answer, confidence, blocked, risk_score, duration_ms, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO NOTHING
`,
		id, record.RequestID, record.Question, string(record.Intent), nullableString(record.Mode),
		record.Answer, record.Confidence, record.Blocked, record.RiskScore, record.DurationMS, createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
