package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// UploadDocumentUseCase accepts a file, stores it under the canonical
// id-based key, registers the document record, logs the upload and publishes
// the ingestion event for eager page rendering.
type UploadDocumentUseCase struct {
	repo     ports.DocumentRepository
	storage  ports.ObjectStorage
	queue    ports.MessageQueue
	audit    ports.AuditRepository
	notifier ports.Notifier
}

func NewUploadDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	audit ports.AuditRepository,
	notifier ports.Notifier,
) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		audit:    audit,
		notifier: notifier,
	}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	user *domain.User,
	filename string,
	sizeBytes int64,
	body io.Reader,
) (*domain.Document, bool, error) {
	if user == nil || user.ID == "" {
		return nil, false, domain.WrapError(domain.ErrUnauthorized, "upload document", fmt.Errorf("missing user"))
	}
	if strings.TrimSpace(filename) == "" {
		return nil, false, domain.WrapError(domain.ErrInvalidInput, "upload document", fmt.Errorf("empty filename"))
	}

	// Same name and size as an existing document: reuse it instead of
	// writing a duplicate record or storage object.
	existing, err := uc.repo.FindDuplicate(ctx, user.ID, filename, sizeBytes)
	if err != nil {
		return nil, false, fmt.Errorf("check duplicate: %w", err)
	}
	if existing != nil {
		if uc.notifier != nil {
			uc.notifier.Notify(domain.NotifyInfo, "Document already uploaded",
				fmt.Sprintf("%s matches an existing document, reusing it", filename))
		}
		return existing, true, nil
	}

	id := uuid.NewString()
	storageKey := originalKey(user.ID, id, filename)
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, false, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:           id,
		UserID:       user.ID,
		Name:         filename,
		Kind:         domain.KindForFilename(filename),
		Status:       domain.StatusUploaded,
		SizeBytes:    sizeBytes,
		OriginalPath: storageKey,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("create document record: %w", err)
	}

	uc.appendLog(ctx, doc.ID, "upload", domain.LogSuccess, fmt.Sprintf("stored %d bytes", sizeBytes))

	if err := uc.queue.PublishDocumentIngested(ctx, doc.ID); err != nil {
		return nil, false, fmt.Errorf("publish ingestion event: %w", err)
	}
	return doc, false, nil
}

func (uc *UploadDocumentUseCase) appendLog(ctx context.Context, documentID, action string, status domain.LogStatus, message string) {
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

// originalKey is the single canonical addressing scheme for stored files.
func originalKey(userID, documentID, filename string) string {
	return fmt.Sprintf("users/%s/%s/original%s", userID, documentID, strings.ToLower(filepath.Ext(filename)))
}

func pageKey(userID, documentID string, pageNumber int) string {
	return fmt.Sprintf("users/%s/%s/pages/page_%03d.jpg", userID, documentID, pageNumber)
}
