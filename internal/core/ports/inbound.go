package ports

import (
	"context"
	"io"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

// DocumentUploader accepts a file, registers the document record and
// publishes the ingestion event. A duplicate by name and size resolves to
// the existing document (reused=true) with no new storage write.
type DocumentUploader interface {
	Upload(ctx context.Context, user *domain.User, filename string, sizeBytes int64, body io.Reader) (doc *domain.Document, reused bool, err error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentConverter renders a document's pages and persists page rows,
// applying the partial-success policy.
type DocumentConverter interface {
	ConvertByID(ctx context.Context, documentID string) error
}

// PipelineService drives processing sessions through the four ordered
// stages and exposes their observable state.
type PipelineService interface {
	StartSession(ctx context.Context, user *domain.User, documentIDs []string) (string, error)
	Run(ctx context.Context, sessionID string) error
	RetryStage(ctx context.Context, sessionID string) error
	ApproveSchema(ctx context.Context, sessionID string) error
	RequestSchemaChanges(ctx context.Context, sessionID, feedback string) error
	ExtractData(ctx context.Context, sessionID string) ([]domain.ExtractionResult, error)
	Steps(sessionID string) ([]domain.PipelineStep, error)
	Stats(ctx context.Context, sessionID string) (*domain.PipelineStats, error)
	IsProcessingComplete(sessionID string) bool
}
