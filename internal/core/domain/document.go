package domain

import "time"

type DocumentKind string

const (
	KindPDF   DocumentKind = "pdf"
	KindImage DocumentKind = "image"
)

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusProcessed  DocumentStatus = "processed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is the registry record carried through the pipeline.
// Invariants: StatusFailed implies ProcessingError is non-empty;
// StatusProcessed implies PageCount >= 1.
type Document struct {
	ID                 string         `json:"id"`
	UserID             string         `json:"user_id"`
	Name               string         `json:"name"`
	Kind               DocumentKind   `json:"kind"`
	Status             DocumentStatus `json:"status"`
	SizeBytes          int64          `json:"size_bytes"`
	OriginalPath       string         `json:"original_path"`
	PageCount          int            `json:"page_count"`
	Transcription      string         `json:"transcription,omitempty"`
	ProcessingError    string         `json:"processing_error,omitempty"`
	ProcessingProgress int            `json:"processing_progress"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DocumentPage is one rendered page image. TextContent starts empty and is
// filled in by transcription; everything else is immutable once created.
type DocumentPage struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	PageNumber  int       `json:"page_number"`
	ImagePath   string    `json:"image_path"`
	TextContent string    `json:"text_content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogError   LogStatus = "error"
	LogWarning LogStatus = "warning"
)

// ProcessingLog is an append-only audit trail entry. Never mutated or deleted.
type ProcessingLog struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Action     string    `json:"action"`
	Status     LogStatus `json:"status"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PromptAudit records every prompt sent to the inference backend so each
// invocation stays reproducible. Gateway failures insert an extra row whose
// Operation carries the "_error" suffix.
type PromptAudit struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Operation  string    `json:"operation"`
	Prompt     string    `json:"prompt"`
	CreatedAt  time.Time `json:"created_at"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// RenderedPage is one successfully rasterized page.
type RenderedPage struct {
	Number int
	JPEG   []byte
	Width  int
	Height int
}

// SkippedPage records a page that failed to rasterize. A skip never aborts
// sibling pages.
type SkippedPage struct {
	Number int
	Reason string
}

// RenderReport is the page renderer's partial-success output.
type RenderReport struct {
	Pages   []RenderedPage
	Skipped []SkippedPage
}

// KindForFilename maps a file extension to the document kind. Anything that
// is not a PDF is treated as a single-page image.
func KindForFilename(name string) DocumentKind {
	n := len(name)
	if n >= 4 {
		ext := name[n-4:]
		if ext == ".pdf" || ext == ".PDF" {
			return KindPDF
		}
	}
	return KindImage
}
