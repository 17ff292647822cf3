package ports

import (
	"context"
	"io"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

// DocumentRepository is the registry of document lifecycle state. It is the
// single mutable shared resource of the pipeline; stage ordering guarantees
// only one stage writes a given document's fields at a time.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Document, error)
	// FindDuplicate returns an existing document with the same name and byte
	// size for the user, or nil when none exists.
	FindDuplicate(ctx context.Context, userID, name string, sizeBytes int64) (*domain.Document, error)
	UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus, errMessage string) error
	SetPageCount(ctx context.Context, id string, pageCount int) error
	SaveTranscription(ctx context.Context, id, transcription string) error
	SetProgress(ctx context.Context, id string, percent int) error
}

// PageRepository persists rendered page rows. SetPageText backfills the
// per-page transcript once transcription has run.
type PageRepository interface {
	CreatePage(ctx context.Context, page *domain.DocumentPage) error
	ListByDocument(ctx context.Context, documentID string) ([]domain.DocumentPage, error)
	SetPageText(ctx context.Context, documentID string, pageNumber int, text string) error
}

// SchemaRepository persists the inferred schema. Save upserts so refinement
// can mutate the schema in place.
type SchemaRepository interface {
	Save(ctx context.Context, schema *domain.DocumentSchema) error
	GetByID(ctx context.Context, id string) (*domain.DocumentSchema, error)
}

// AuditRepository is the append-only trail: processing logs per state
// transition and one prompt record per inference dispatch.
type AuditRepository interface {
	AppendLog(ctx context.Context, entry *domain.ProcessingLog) error
	ListLogsByDocument(ctx context.Context, documentID string) ([]domain.ProcessingLog, error)
	RecordPrompt(ctx context.Context, record *domain.PromptAudit) error
}

// ObjectStorage stores original files and rendered page images. Keys are
// namespaced users/<user_id>/<document_id>/<artifact>.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	PublicURL(key string) string
}

// MessageQueue publishes/consumes document-ingested events so page rendering
// can start eagerly after upload.
type MessageQueue interface {
	PublishDocumentIngested(ctx context.Context, documentID string) error
	SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// PageRenderer rasterizes a stored file into thumbnail-scale page images.
// Individual page failures are reported in the report, not as an error.
type PageRenderer interface {
	RenderPages(ctx context.Context, kind domain.DocumentKind, data io.Reader) (*domain.RenderReport, error)
}

// PromptBuilder constructs the tagged inference request payloads.
type PromptBuilder interface {
	Transcription(doc *domain.Document, pages []domain.DocumentPage) domain.Prompt
	SchemaGeneration(docs []domain.Document) domain.Prompt
	SchemaRefinement(schema *domain.DocumentSchema, feedback string) domain.Prompt
	DataExtraction(doc *domain.Document, schema *domain.DocumentSchema) domain.Prompt
}

// InferenceGateway sends a built prompt to the inference backend and
// normalizes the per-operation response shape into typed results/errors.
type InferenceGateway interface {
	Invoke(ctx context.Context, prompt domain.Prompt) (*domain.InvocationResult, error)
}

// Notifier surfaces user-facing notifications. Best effort, non-blocking.
type Notifier interface {
	Notify(level domain.NotifyLevel, title, message string)
}

// IdentityProvider authenticates a presented API key and resolves the owning
// user.
type IdentityProvider interface {
	Authenticate(apiKey string) (*domain.User, error)
}
