package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

type PageRepository struct {
	db *sql.DB
}

func NewPageRepository(db *sql.DB) *PageRepository {
	return &PageRepository{db: db}
}

func (r *PageRepository) CreatePage(ctx context.Context, page *domain.DocumentPage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO document_pages (id, document_id, page_number, image_path, text_content, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)
ON CONFLICT (document_id, page_number) DO NOTHING
`, page.ID, page.DocumentID, page.PageNumber, page.ImagePath, page.TextContent, page.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (r *PageRepository) ListByDocument(ctx context.Context, documentID string) ([]domain.DocumentPage, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, page_number, image_path, COALESCE(text_content, ''), created_at
FROM document_pages
WHERE document_id = $1
ORDER BY page_number
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.DocumentPage
	for rows.Next() {
		var page domain.DocumentPage
		if err := rows.Scan(&page.ID, &page.DocumentID, &page.PageNumber, &page.ImagePath, &page.TextContent, &page.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

func (r *PageRepository) SetPageText(ctx context.Context, documentID string, pageNumber int, text string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE document_pages SET text_content = $3
WHERE document_id = $1 AND page_number = $2
`, documentID, pageNumber, text)
	if err != nil {
		return fmt.Errorf("update page text: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update page text: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "set page text",
			fmt.Errorf("document %s has no page %d", documentID, pageNumber))
	}
	return nil
}
