package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

func newAuditRepoWithMock(t *testing.T) (*AuditRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &AuditRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestAppendLogInsertsRow(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	entry := &domain.ProcessingLog{
		ID:         "log-1",
		DocumentID: "doc-1",
		Action:     "upload",
		Status:     domain.LogSuccess,
		Message:    "",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO processing_logs").
		WithArgs(entry.ID, entry.DocumentID, entry.Action, string(entry.Status), entry.Message, entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.AppendLog(context.Background(), entry); err != nil {
		t.Fatalf("AppendLog() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListLogsByDocumentOrdersByCreation(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "document_id", "action", "status", "message", "created_at"}).
		AddRow("log-1", "doc-1", "upload", "success", "", now.Add(-time.Minute)).
		AddRow("log-2", "doc-1", "transcribe", "error", "backend unavailable", now)

	mock.ExpectQuery("SELECT id, document_id, action, status, message, created_at").
		WithArgs("doc-1").
		WillReturnRows(rows)

	logs, err := repo.ListLogsByDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ListLogsByDocument() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[1].Status != domain.LogError {
		t.Fatalf("expected error status, got %s", logs[1].Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordPromptInsertsRow(t *testing.T) {
	repo, mock, done := newAuditRepoWithMock(t)
	defer done()

	record := &domain.PromptAudit{
		ID:         "audit-1",
		DocumentID: "doc-1",
		Operation:  "transcribe_error",
		Prompt:     "prompt body",
		CreatedAt:  time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO prompt_audits").
		WithArgs(record.ID, record.DocumentID, record.Operation, record.Prompt, record.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.RecordPrompt(context.Background(), record); err != nil {
		t.Fatalf("RecordPrompt() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
