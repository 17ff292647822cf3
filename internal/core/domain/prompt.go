package domain

// Operation is the explicit tag carried on every inference request. Dispatch
// happens on this tag, never by inspecting the prompt body.
type Operation string

const (
	OpTranscribe     Operation = "transcribe"
	OpGenerateSchema Operation = "generate_schema"
	OpExtractData    Operation = "extract_data"
)

// Prompt is a structured request to the inference backend.
type Prompt struct {
	Operation   Operation `json:"operation"`
	Model       string    `json:"model"`
	DocumentIDs []string  `json:"document_ids"`
	Text        string    `json:"prompt"`
}

// InvocationResult holds the stage-specific payload extracted from a
// successful inference response. Exactly one of the payload fields is set
// for the three known operations; Completed marks anything else.
type InvocationResult struct {
	Operation     Operation
	Transcription string
	Schema        *DocumentSchema
	Extraction    *ExtractionResult
	Completed     bool
}
