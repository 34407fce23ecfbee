package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/lawgraph/counsel/internal/core/domain"
)

func newAuditRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AuditRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestInsertRecordBindsAllColumns(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO answer_audit").
		WithArgs("a1", "req-1", "what is the penalty", "rag", "merge", "a fine applies",
			0.82, false, 0.1, 412.5, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertRecord(context.Background(), domain.AuditRecord{
		ID:         "a1",
		RequestID:  "req-1",
		Question:   "what is the penalty",
		Intent:     domain.IntentRAG,
		Mode:       "merge",
		Answer:     "a fine applies",
		Confidence: 0.82,
		Blocked:    false,
		RiskScore:  0.1,
		DurationMS: 412.5,
		CreatedAt:  createdAt,
	})
	if err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRecordFillsMissingIDAndTimestamp(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO answer_audit").
		WithArgs(sqlmock.AnyArg(), "req-2", "hi", "chitchat", nil, "hello",
			0.5, false, 0.0, 3.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.InsertRecord(context.Background(), domain.AuditRecord{
		RequestID:  "req-2",
		Question:   "hi",
		Intent:     domain.IntentChitchat,
		Answer:     "hello",
		Confidence: 0.5,
		DurationMS: 3.0,
	})
	if err != nil {
		t.Fatalf("InsertRecord() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertRecordWrapsExecError(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO answer_audit").
		WillReturnError(errors.New("connection reset"))

	err := repo.InsertRecord(context.Background(), domain.AuditRecord{ID: "a1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "insert audit record") {
		t.Fatalf("error = %v, want insert audit record wrap", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
