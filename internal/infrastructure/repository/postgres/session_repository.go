package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lawgraph/counsel/internal/core/domain"
)

// SessionRepository stores ask-session turns used to enrich follow-up
// questions with recent history.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) AppendMessage(ctx context.Context, message domain.SessionMessage) error {
	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO session_messages (session_id, role, content, created_at)
VALUES ($1,$2,$3,$4)
`, message.SessionID, message.Role, message.Content, createdAt)
	if err != nil {
		return fmt.Errorf("insert session message: %w", err)
	}
	return nil
}

func (r *SessionRepository) ListRecent(ctx context.Context, sessionID string, limit int) ([]domain.SessionMessage, error) {
	// Both turns of an exchange can share created_at; id breaks the tie.
	rows, err := r.db.QueryContext(ctx, `
SELECT session_id, role, content, created_at
FROM session_messages
WHERE session_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SessionMessage, 0, limit)
	for rows.Next() {
		var msg domain.SessionMessage
		if err := rows.Scan(&msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recent message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent messages: %w", err)
	}

	// Returned in descending order from SQL; reverse to keep chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
