package usecase

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// PageProgressSink receives incremental page-render progress keyed by
// document id. The upload tracker implements it.
type PageProgressSink interface {
	PageProgress(documentID string, pagesProcessed, pageCount int)
}

// ConvertDocumentUseCase renders a stored document into per-page thumbnail
// images and persists one page row per rendered page.
//
// Partial-success policy: a failed page is logged and skipped rather than
// aborting the document. Zero rendered pages marks the document failed;
// partial success proceeds with page_count equal to what was produced and a
// warning log. A 40-page filing must not be discarded because one page fails
// to render.
type ConvertDocumentUseCase struct {
	repo     ports.DocumentRepository
	pages    ports.PageRepository
	storage  ports.ObjectStorage
	renderer ports.PageRenderer
	audit    ports.AuditRepository
	progress PageProgressSink
}

func NewConvertDocumentUseCase(
	repo ports.DocumentRepository,
	pages ports.PageRepository,
	storage ports.ObjectStorage,
	renderer ports.PageRenderer,
	audit ports.AuditRepository,
	progress PageProgressSink,
) *ConvertDocumentUseCase {
	return &ConvertDocumentUseCase{
		repo:     repo,
		pages:    pages,
		storage:  storage,
		renderer: renderer,
		audit:    audit,
		progress: progress,
	}
}

func (uc *ConvertDocumentUseCase) ConvertByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document for conversion: %w", err)
	}

	existing, err := uc.pages.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("list existing pages: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	report, err := uc.render(ctx, doc)
	if err != nil {
		return uc.fail(ctx, documentID, "page_conversion", err)
	}

	if len(report.Pages) == 0 {
		reasons := skipReasons(report.Skipped)
		failErr := fmt.Errorf("no pages could be rendered: %s", reasons)
		return uc.fail(ctx, documentID, "page_conversion", failErr)
	}

	total := len(report.Pages)
	for i, page := range report.Pages {
		key := pageKey(doc.UserID, doc.ID, page.Number)
		if err := uc.storage.Save(ctx, key, bytes.NewReader(page.JPEG)); err != nil {
			return uc.fail(ctx, documentID, "page_conversion", fmt.Errorf("store page %d image: %w", page.Number, err))
		}
		row := &domain.DocumentPage{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			PageNumber: page.Number,
			ImagePath:  key,
			CreatedAt:  time.Now().UTC(),
		}
		if err := uc.pages.CreatePage(ctx, row); err != nil {
			return uc.fail(ctx, documentID, "page_conversion", fmt.Errorf("persist page %d: %w", page.Number, err))
		}
		if uc.progress != nil {
			uc.progress.PageProgress(doc.ID, i+1, total)
		}
	}

	if err := uc.repo.SetPageCount(ctx, documentID, total); err != nil {
		return fmt.Errorf("save page count: %w", err)
	}

	if len(report.Skipped) > 0 {
		uc.appendLog(ctx, documentID, "page_conversion", domain.LogWarning,
			fmt.Sprintf("rendered %d pages, skipped %d: %s", total, len(report.Skipped), skipReasons(report.Skipped)))
	} else {
		uc.appendLog(ctx, documentID, "page_conversion", domain.LogSuccess,
			fmt.Sprintf("rendered %d pages", total))
	}
	return nil
}

func (uc *ConvertDocumentUseCase) render(ctx context.Context, doc *domain.Document) (*domain.RenderReport, error) {
	file, err := uc.storage.Open(ctx, doc.OriginalPath)
	if err != nil {
		return nil, fmt.Errorf("open original file: %w", err)
	}
	defer file.Close()

	report, err := uc.renderer.RenderPages(ctx, doc.Kind, file)
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	return report, nil
}

func (uc *ConvertDocumentUseCase) fail(ctx context.Context, documentID, action string, cause error) error {
	uc.appendLog(ctx, documentID, action, domain.LogError, cause.Error())
	if err := uc.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, cause.Error()); err != nil {
		return fmt.Errorf("%w; mark failed status: %v", cause, err)
	}
	return cause
}

func (uc *ConvertDocumentUseCase) appendLog(ctx context.Context, documentID, action string, status domain.LogStatus, message string) {
	if uc.audit == nil {
		return
	}
	_ = uc.audit.AppendLog(ctx, &domain.ProcessingLog{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Action:     action,
		Status:     status,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	})
}

func skipReasons(skipped []domain.SkippedPage) string {
	if len(skipped) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(skipped))
	for _, s := range skipped {
		parts = append(parts, fmt.Sprintf("page %d: %s", s.Number, s.Reason))
	}
	return strings.Join(parts, "; ")
}
