package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/usecase"
	"github.com/scriptor-ai/scriptor/internal/infrastructure/identity/apikey"
)

type stubUploader struct {
	doc    *domain.Document
	reused bool
	err    error
}

func (s *stubUploader) Upload(_ context.Context, _ *domain.User, filename string, _ int64, body io.Reader) (*domain.Document, bool, error) {
	if s.err != nil {
		return nil, false, s.err
	}
	_, _ = io.Copy(io.Discard, body)
	if s.doc == nil {
		s.doc = &domain.Document{ID: "doc-1", Name: filename, Status: domain.StatusUploaded}
	}
	return s.doc, s.reused, nil
}

type stubDocumentRepo struct {
	docs map[string]*domain.Document
}

func (s *stubDocumentRepo) Create(context.Context, *domain.Document) error { return nil }

func (s *stubDocumentRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if doc, ok := s.docs[id]; ok {
		return doc, nil
	}
	return nil, domain.WrapError(domain.ErrDocumentNotFound, "documents.get", errors.New(id))
}

func (s *stubDocumentRepo) ListByIDs(context.Context, []string) ([]domain.Document, error) {
	return nil, nil
}

func (s *stubDocumentRepo) FindDuplicate(context.Context, string, string, int64) (*domain.Document, error) {
	return nil, nil
}

func (s *stubDocumentRepo) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}

func (s *stubDocumentRepo) SetPageCount(context.Context, string, int) error { return nil }

func (s *stubDocumentRepo) SaveTranscription(context.Context, string, string) error { return nil }

func (s *stubDocumentRepo) SetProgress(context.Context, string, int) error { return nil }

type stubPageRepo struct {
	pages map[string][]domain.DocumentPage
}

func (s *stubPageRepo) CreatePage(context.Context, *domain.DocumentPage) error { return nil }

func (s *stubPageRepo) ListByDocument(_ context.Context, documentID string) ([]domain.DocumentPage, error) {
	return s.pages[documentID], nil
}

func (s *stubPageRepo) SetPageText(context.Context, string, int, string) error { return nil }

type stubAuditRepo struct {
	logs []domain.ProcessingLog
}

func (s *stubAuditRepo) AppendLog(context.Context, *domain.ProcessingLog) error { return nil }

func (s *stubAuditRepo) ListLogsByDocument(context.Context, string) ([]domain.ProcessingLog, error) {
	return s.logs, nil
}

func (s *stubAuditRepo) RecordPrompt(context.Context, *domain.PromptAudit) error { return nil }

type stubStorage struct{}

func (stubStorage) Save(context.Context, string, io.Reader) error { return nil }

func (stubStorage) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

func (stubStorage) PublicURL(key string) string { return "http://files.local/" + key }

type stubPipeline struct {
	sessionID  string
	startErr   error
	stepsErr   error
	approveErr error
	results    []domain.ExtractionResult
	extractErr error
	runs       chan string
}

func (s *stubPipeline) StartSession(context.Context, *domain.User, []string) (string, error) {
	if s.startErr != nil {
		return "", s.startErr
	}
	return s.sessionID, nil
}

func (s *stubPipeline) Run(_ context.Context, sessionID string) error {
	if s.runs != nil {
		s.runs <- sessionID
	}
	return nil
}

func (s *stubPipeline) RetryStage(context.Context, string) error { return nil }

func (s *stubPipeline) ApproveSchema(context.Context, string) error { return s.approveErr }

func (s *stubPipeline) RequestSchemaChanges(context.Context, string, string) error { return nil }

func (s *stubPipeline) ExtractData(context.Context, string) ([]domain.ExtractionResult, error) {
	return s.results, s.extractErr
}

func (s *stubPipeline) Steps(string) ([]domain.PipelineStep, error) {
	if s.stepsErr != nil {
		return nil, s.stepsErr
	}
	return []domain.PipelineStep{}, nil
}

func (s *stubPipeline) Stats(context.Context, string) (*domain.PipelineStats, error) {
	return &domain.PipelineStats{}, nil
}

func (s *stubPipeline) IsProcessingComplete(string) bool { return false }

type routerFixture struct {
	uploader *stubUploader
	repo     *stubDocumentRepo
	pages    *stubPageRepo
	pipeline *stubPipeline
	tracker  *usecase.UploadTracker
	handler  http.Handler
}

func newRouterFixture(apiKey string, cfg RouterConfig) *routerFixture {
	f := &routerFixture{
		uploader: &stubUploader{},
		repo:     &stubDocumentRepo{docs: map[string]*domain.Document{}},
		pages:    &stubPageRepo{pages: map[string][]domain.DocumentPage{}},
		pipeline: &stubPipeline{sessionID: "sess-1"},
		tracker:  usecase.NewUploadTracker(nil),
	}
	identity := apikey.New(apiKey, domain.User{ID: "user-1", Email: "owner@example.com"})
	router := NewRouter(f.uploader, f.repo, f.pages, &stubAuditRepo{}, stubStorage{}, f.pipeline, f.tracker, identity, cfg)
	f.handler = router.Handler()
	return f
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func doRequest(f *routerFixture, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthzBypassesAuth(t *testing.T) {
	f := newRouterFixture("secret", RouterConfig{})

	rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestAPIRejectsMissingKey(t *testing.T) {
	f := newRouterFixture("secret", RouterConfig{})

	rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	if rec := doRequest(f, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestUploadRequiresFileField(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	rec := doRequest(f, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUploadAcceptsMultipartAndTracksProgress(t *testing.T) {
	f := newRouterFixture("secret", RouterConfig{})

	body, contentType := multipartUpload(t, "journal.pdf", "pdf-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer secret")

	rec := doRequest(f, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Reused   bool   `json:"reused"`
		UploadID string `json:"upload_id"`
		Document struct {
			ID string `json:"id"`
		} `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reused || resp.Document.ID != "doc-1" || resp.UploadID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	entries := f.tracker.Snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one tracker entry, got %d", len(entries))
	}
	if entries[0].Progress != 100 || entries[0].Status != domain.UploadProcessing {
		t.Fatalf("unexpected tracker entry %+v", entries[0])
	}
}

func TestUploadErrorMarksTracker(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})
	f.uploader.err = domain.WrapError(domain.ErrInvalidInput, "documents.upload", errors.New("empty filename"))

	body, contentType := multipartUpload(t, "journal.pdf", "pdf-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(f, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	entries := f.tracker.Snapshot()
	if len(entries) != 1 || entries[0].Status != domain.UploadError {
		t.Fatalf("expected error tracker entry, got %+v", entries)
	}
}

func TestGetDocumentReturnsPageURLs(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})
	f.repo.docs["doc-1"] = &domain.Document{ID: "doc-1", Name: "journal.pdf"}
	f.pages.pages["doc-1"] = []domain.DocumentPage{
		{DocumentID: "doc-1", PageNumber: 1, ImagePath: "users/user-1/doc-1/pages/page_001.jpg"},
	}

	rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Pages []struct {
			PageNumber int    `json:"page_number"`
			URL        string `json:"url"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Pages) != 1 || resp.Pages[0].URL != "http://files.local/users/user-1/doc-1/pages/page_001.jpg" {
		t.Fatalf("unexpected pages %+v", resp.Pages)
	}
}

func TestGetDocumentNotFoundMapsTo404(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})

	rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStartSessionValidatesBody(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader("{"))
	if rec := doRequest(f, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"document_ids":[]}`))
	if rec := doRequest(f, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty ids, got %d", rec.Code)
	}
}

func TestStartSessionRunsPipelineInBackground(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})
	f.pipeline.runs = make(chan string, 1)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"document_ids":["doc-1"]}`))
	rec := doRequest(f, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Fatalf("unexpected session id %q", resp.SessionID)
	}

	if got := <-f.pipeline.runs; got != "sess-1" {
		t.Fatalf("expected background run for sess-1, got %q", got)
	}
}

func TestSessionNotFoundMapsTo404(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})
	f.pipeline.stepsErr = domain.WrapError(domain.ErrSessionNotFound, "sessions.get", errors.New("sess-x"))

	rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-x", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRequestChangesRequiresFeedback(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/changes", strings.NewReader(`{"feedback":"  "}`))
	rec := doRequest(f, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestApproveConflictMapsToBadRequest(t *testing.T) {
	f := newRouterFixture("", RouterConfig{})
	f.pipeline.approveErr = domain.WrapError(domain.ErrInvalidInput, "sessions.approve", errors.New("already approved"))

	rec := doRequest(f, httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/approve", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadRecordsOutcomeMetrics(t *testing.T) {
	var outcomes []string
	f := newRouterFixture("", RouterConfig{
		RecordUpload: func(outcome string, sizeBytes int64) {
			outcomes = append(outcomes, fmt.Sprintf("%s:%d", outcome, sizeBytes))
		},
	})

	body, contentType := multipartUpload(t, "journal.pdf", "pdf-bytes")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	if rec := doRequest(f, req); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	f.uploader.reused = true
	body, contentType = multipartUpload(t, "journal.pdf", "pdf-bytes")
	req = httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	if rec := doRequest(f, req); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	f.uploader.err = domain.WrapError(domain.ErrInvalidInput, "documents.upload", errors.New("empty filename"))
	body, contentType = multipartUpload(t, "journal.pdf", "pdf-bytes")
	req = httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	if rec := doRequest(f, req); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	size := int64(len("pdf-bytes"))
	want := []string{
		fmt.Sprintf("accepted:%d", size),
		fmt.Sprintf("reused:%d", size),
		fmt.Sprintf("failed:%d", size),
	}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %d recorded uploads, got %v", len(want), outcomes)
	}
	for i, w := range want {
		if outcomes[i] != w {
			t.Fatalf("outcome %d: expected %q, got %q", i, w, outcomes[i])
		}
	}
}

func TestRateLimitReturns429WithRetryAfter(t *testing.T) {
	f := newRouterFixture("", RouterConfig{RateLimitRPS: 1, RateLimitBurst: 2})

	var lastCode int
	for i := 0; i < 5; i++ {
		rec := doRequest(f, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		lastCode = rec.Code
		if rec.Code == http.StatusTooManyRequests {
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("expected Retry-After header")
			}
			return
		}
	}
	t.Fatalf("rate limit never tripped, last status %d", lastCode)
}
