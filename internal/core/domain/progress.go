package domain

import "time"

type UploadStatus string

const (
	UploadUploading  UploadStatus = "uploading"
	UploadProcessing UploadStatus = "processing"
	UploadComplete   UploadStatus = "complete"
	UploadError      UploadStatus = "error"
)

// UploadProgress is an ephemeral per-file tracker entry. Never persisted;
// destroyed when the queue is cleared or the session ends.
type UploadProgress struct {
	ID             string       `json:"id"`
	FileName       string       `json:"file_name"`
	Progress       int          `json:"progress"`
	Status         UploadStatus `json:"status"`
	Message        string       `json:"message,omitempty"`
	PagesProcessed int          `json:"pages_processed,omitempty"`
	PageCount      int          `json:"page_count,omitempty"`
}

type Stage string

const (
	StageUpload           Stage = "upload"
	StageTranscription    Stage = "transcription"
	StageSchemaGeneration Stage = "schema_generation"
	StageSchemaRefinement Stage = "schema_refinement"
)

// Stages lists the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageUpload, StageTranscription, StageSchemaGeneration, StageSchemaRefinement}
}

type StepStatus string

const (
	StepWaiting    StepStatus = "waiting"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// PipelineStep is the ephemeral per-stage state of one processing session.
// Transitions are monotonic except that a failed step may be retried back
// into in_progress.
type PipelineStep struct {
	ID          string     `json:"id"`
	Stage       Stage      `json:"stage"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
	Progress    int        `json:"progress"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type SchemaDetails struct {
	Tables int `json:"tables"`
	Fields int `json:"fields"`
}

// PipelineStats is computed live from the document registry and the cached
// schema, never from a separately maintained counter.
type PipelineStats struct {
	DocumentCount      int           `json:"document_count"`
	ProcessedDocuments int           `json:"processed_documents"`
	SchemaDetails      SchemaDetails `json:"schema_details"`
}

type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyError   NotifyLevel = "error"
)
