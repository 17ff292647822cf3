package scribe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/resilience"
)

// Client is the gateway to the inference backend. It owns the request
// payload shape and the interpretation of the {success, result | error}
// envelope; the backend itself stays opaque.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	audit      ports.AuditRepository
	executor   *resilience.Executor
}

func New(baseURL, model string, audit ports.AuditRepository, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		audit:      audit,
		executor:   executor,
	}
}

type invokeRequest struct {
	Operation   string   `json:"operation"`
	Model       string   `json:"model"`
	DocumentIDs []string `json:"document_ids"`
	Prompt      string   `json:"prompt"`
}

type backendError struct {
	Message string `json:"message"`
	Name    string `json:"name,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

type invokeResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *backendError   `json:"error"`
}

// Invoke dispatches on the prompt's operation tag, audits the prompt text,
// and normalizes the per-operation response payload. An absent response, an
// operation-level failure and a malformed payload surface as three distinct
// typed errors; nothing is silently defaulted.
func (c *Client) Invoke(ctx context.Context, prompt domain.Prompt) (*domain.InvocationResult, error) {
	operation := string(prompt.Operation)
	c.recordPrompt(ctx, prompt, operation)

	var resp invokeResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/invoke", invokeRequest{
			Operation:   operation,
			Model:       prompt.Model,
			DocumentIDs: prompt.DocumentIDs,
			Prompt:      prompt.Text,
		}, &resp, operation)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "inference."+operation, call, classifyBackendError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		err = wrapTemporaryIfNeeded(operation, err)
		slog.Error("inference_invoke_failed",
			"operation", operation,
			"document_ids", prompt.DocumentIDs,
			"error", truncate(err.Error(), 512),
		)
		return nil, err
	}

	if !resp.Success {
		detail := "backend reported failure without detail"
		if resp.Error != nil && resp.Error.Message != "" {
			detail = resp.Error.Message
			if resp.Error.Name != "" {
				detail = resp.Error.Name + ": " + detail
			}
		}
		c.recordPrompt(ctx, prompt, operation+"_error")
		slog.Error("inference_operation_failed",
			"operation", operation,
			"document_ids", prompt.DocumentIDs,
			"error", truncate(detail, 512),
		)
		return nil, domain.WrapError(domain.ErrOperationFailed, operation, fmt.Errorf("%s", detail))
	}

	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, domain.WrapError(domain.ErrNoResponse, operation, fmt.Errorf("success without result payload"))
	}

	result, err := extractResult(prompt.Operation, resp.Result)
	if err != nil {
		slog.Error("inference_payload_malformed",
			"operation", operation,
			"document_ids", prompt.DocumentIDs,
			"error", truncate(err.Error(), 512),
		)
		return nil, err
	}

	slog.Info("inference_invoke_ok", "operation", operation, "document_ids", prompt.DocumentIDs)
	return result, nil
}

// extractResult pulls the stage-specific payload out of the raw result.
func extractResult(operation domain.Operation, raw json.RawMessage) (*domain.InvocationResult, error) {
	out := &domain.InvocationResult{Operation: operation}

	switch operation {
	case domain.OpTranscribe:
		var payload struct {
			Transcription string `json:"transcription"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, decodeError(operation, raw, err)
		}
		if payload.Transcription == "" {
			return nil, decodeError(operation, raw, fmt.Errorf("missing transcription field"))
		}
		out.Transcription = payload.Transcription

	case domain.OpGenerateSchema:
		var payload struct {
			Schema *domain.DocumentSchema `json:"schema"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, decodeError(operation, raw, err)
		}
		if payload.Schema == nil || len(payload.Schema.Tables) == 0 {
			return nil, decodeError(operation, raw, fmt.Errorf("missing or empty schema object"))
		}
		out.Schema = payload.Schema

	case domain.OpExtractData:
		var payload struct {
			Records    map[string]map[string]any `json:"records"`
			Confidence float64                   `json:"confidence"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, decodeError(operation, raw, err)
		}
		if payload.Records == nil {
			return nil, decodeError(operation, raw, fmt.Errorf("missing records object"))
		}
		out.Extraction = &domain.ExtractionResult{
			Records:    payload.Records,
			Confidence: payload.Confidence,
		}

	default:
		out.Completed = true
	}
	return out, nil
}

func decodeError(operation domain.Operation, raw json.RawMessage, err error) error {
	return domain.WrapError(domain.ErrMalformedResponse, string(operation),
		fmt.Errorf("%w (raw: %s)", err, truncate(string(raw), 256)))
}

// recordPrompt persists one audit row per target document so every
// invocation stays reproducible after the fact.
func (c *Client) recordPrompt(ctx context.Context, prompt domain.Prompt, operation string) {
	if c.audit == nil {
		return
	}
	now := time.Now().UTC()
	for _, docID := range prompt.DocumentIDs {
		err := c.audit.RecordPrompt(ctx, &domain.PromptAudit{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Operation:  operation,
			Prompt:     prompt.Text,
			CreatedAt:  now,
		})
		if err != nil {
			slog.Warn("prompt_audit_failed", "operation", operation, "document_id", docID, "error", err)
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
