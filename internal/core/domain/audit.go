package domain

import "time"

// AuditRecord is one answered question, published on the audit subject and
// persisted by the worker for offline inspection.
type AuditRecord struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"request_id"`
	Question   string    `json:"question"`
	Intent     Intent    `json:"intent"`
	Mode       string    `json:"mode,omitempty"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	Blocked    bool      `json:"blocked"`
	RiskScore  float64   `json:"risk_score"`
	DurationMS float64   `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionMessage is one turn of an ask session, used to enrich follow-up
// questions with recent history.
type SessionMessage struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
