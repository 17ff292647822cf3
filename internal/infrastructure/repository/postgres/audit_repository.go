package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) AppendLog(ctx context.Context, entry *domain.ProcessingLog) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO processing_logs (id, document_id, action, status, message, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, entry.ID, entry.DocumentID, entry.Action, string(entry.Status), entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert processing log: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListLogsByDocument(ctx context.Context, documentID string) ([]domain.ProcessingLog, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, action, status, message, created_at
FROM processing_logs
WHERE document_id = $1
ORDER BY created_at
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query processing logs: %w", err)
	}
	defer rows.Close()

	var logs []domain.ProcessingLog
	for rows.Next() {
		var entry domain.ProcessingLog
		var status string
		if err := rows.Scan(&entry.ID, &entry.DocumentID, &entry.Action, &status, &entry.Message, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan processing log: %w", err)
		}
		entry.Status = domain.LogStatus(status)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate processing logs: %w", err)
	}
	return logs, nil
}

func (r *AuditRepository) RecordPrompt(ctx context.Context, record *domain.PromptAudit) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO prompt_audits (id, document_id, operation, prompt, created_at)
VALUES ($1,$2,$3,$4,$5)
`, record.ID, record.DocumentID, record.Operation, record.Prompt, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prompt audit: %w", err)
	}
	return nil
}
