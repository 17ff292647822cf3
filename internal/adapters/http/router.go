package httpadapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
	"github.com/scriptor-ai/scriptor/internal/core/usecase"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/identity/apikey"
)

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int

	// RecordUpload reports each upload attempt's outcome (accepted, reused,
	// failed) for metrics. Optional.
	RecordUpload func(outcome string, sizeBytes int64)
}

type Router struct {
	uploader ports.DocumentUploader
	repo     ports.DocumentReader
	pages    ports.PageRepository
	audit    ports.AuditRepository
	storage  ports.ObjectStorage
	pipeline ports.PipelineService
	tracker  *usecase.UploadTracker
	identity ports.IdentityProvider
	cfg      RouterConfig
}

func NewRouter(
	uploader ports.DocumentUploader,
	repo ports.DocumentReader,
	pages ports.PageRepository,
	audit ports.AuditRepository,
	storage ports.ObjectStorage,
	pipeline ports.PipelineService,
	tracker *usecase.UploadTracker,
	identity ports.IdentityProvider,
	cfg RouterConfig,
) *Router {
	return &Router{
		uploader: uploader,
		repo:     repo,
		pages:    pages,
		audit:    audit,
		storage:  storage,
		pipeline: pipeline,
		tracker:  tracker,
		identity: identity,
		cfg:      cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/v1/documents", rt.uploadDocument)
	api.HandleFunc("/v1/documents/", rt.documentSubroutes)
	api.HandleFunc("/v1/sessions", rt.startSession)
	api.HandleFunc("/v1/sessions/", rt.sessionSubroutes)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.Handle("/v1/", authMiddleware(api, rt.identity))

	var handler http.Handler = mux
	handler = rateLimitMiddleware(handler, rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// progressReader feeds byte counts into the upload tracker as the multipart
// body streams through.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	uploadID string
	tracker  *usecase.UploadTracker
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		p.tracker.SetProgress(p.uploadID, int(p.read*100/p.total))
	}
	return n, err
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	user, ok := apikey.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no authenticated user"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	uploadID := rt.tracker.Add(fileHeader.Filename)
	body := &progressReader{
		r:        file,
		total:    fileHeader.Size,
		uploadID: uploadID,
		tracker:  rt.tracker,
	}

	doc, reused, err := rt.uploader.Upload(r.Context(), user, fileHeader.Filename, fileHeader.Size, body)
	if err != nil {
		rt.tracker.SetStatus(uploadID, domain.UploadError, err.Error())
		rt.recordUpload("failed", fileHeader.Size)
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.tracker.BindDocument(uploadID, doc.ID)
	rt.tracker.SetProgress(uploadID, 100)
	if reused {
		rt.tracker.SetStatus(uploadID, domain.UploadComplete, "")
		rt.recordUpload("reused", fileHeader.Size)
	} else {
		rt.tracker.SetStatus(uploadID, domain.UploadProcessing, "")
		rt.recordUpload("accepted", fileHeader.Size)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"document":  doc,
		"reused":    reused,
		"upload_id": uploadID,
	})
}

func (rt *Router) documentSubroutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}

	switch sub {
	case "":
		rt.getDocument(w, r, id)
	case "logs":
		rt.getDocumentLogs(w, r, id)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := rt.repo.GetByID(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	pages, err := rt.pages.ListByDocument(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	type pageView struct {
		PageNumber int    `json:"page_number"`
		URL        string `json:"url"`
	}
	views := make([]pageView, 0, len(pages))
	for _, page := range pages {
		views = append(views, pageView{
			PageNumber: page.PageNumber,
			URL:        rt.storage.PublicURL(page.ImagePath),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document": doc,
		"pages":    views,
	})
}

func (rt *Router) getDocumentLogs(w http.ResponseWriter, r *http.Request, id string) {
	logs, err := rt.audit.ListLogsByDocument(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (rt *Router) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	user, ok := apikey.UserFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no authenticated user"})
		return
	}

	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_ids is required"})
		return
	}

	sessionID, err := rt.pipeline.StartSession(r.Context(), user, req.DocumentIDs)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	// The run outlives the request; clients poll GET /v1/sessions/{id}.
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		if err := rt.pipeline.Run(runCtx, sessionID); err != nil {
			slog.Error("pipeline_run_failed", "session_id", sessionID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sessionID})
}

func (rt *Router) sessionSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		rt.getSession(w, r, id)
	case sub == "retry" && r.Method == http.MethodPost:
		rt.retrySession(w, r, id)
	case sub == "approve" && r.Method == http.MethodPost:
		rt.approveSchema(w, r, id)
	case sub == "changes" && r.Method == http.MethodPost:
		rt.requestChanges(w, r, id)
	case sub == "extract" && r.Method == http.MethodPost:
		rt.extractData(w, r, id)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) getSession(w http.ResponseWriter, r *http.Request, id string) {
	steps, err := rt.pipeline.Steps(id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	stats, err := rt.pipeline.Stats(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"steps":    steps,
		"stats":    stats,
		"uploads":  rt.tracker.Snapshot(),
		"complete": rt.pipeline.IsProcessingComplete(id),
	})
}

func (rt *Router) retrySession(w http.ResponseWriter, r *http.Request, id string) {
	runCtx := context.WithoutCancel(r.Context())
	if err := rt.pipeline.RetryStage(runCtx, id); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (rt *Router) approveSchema(w http.ResponseWriter, r *http.Request, id string) {
	if err := rt.pipeline.ApproveSchema(r.Context(), id); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (rt *Router) requestChanges(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "feedback is required"})
		return
	}

	if err := rt.pipeline.RequestSchemaChanges(r.Context(), id, req.Feedback); err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "changes applied"})
}

func (rt *Router) extractData(w http.ResponseWriter, r *http.Request, id string) {
	results, err := rt.pipeline.ExtractData(r.Context(), id)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (rt *Router) recordUpload(outcome string, sizeBytes int64) {
	if rt.cfg.RecordUpload != nil {
		rt.cfg.RecordUpload(outcome, sizeBytes)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
