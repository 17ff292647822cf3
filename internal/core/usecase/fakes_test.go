package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
)

type fakeDocumentRepo struct {
	mu   sync.Mutex
	docs map[string]*domain.Document

	failGetByID bool
}

func newFakeDocumentRepo(docs ...*domain.Document) *fakeDocumentRepo {
	repo := &fakeDocumentRepo{docs: make(map[string]*domain.Document)}
	for _, doc := range docs {
		copied := *doc
		repo.docs[doc.ID] = &copied
	}
	return repo
}

func (r *fakeDocumentRepo) Create(_ context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *fakeDocumentRepo) GetByID(_ context.Context, id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetByID {
		return nil, fmt.Errorf("registry unavailable")
	}
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "fake get", fmt.Errorf("id %s", id))
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeDocumentRepo) ListByIDs(_ context.Context, ids []string) ([]domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := r.docs[id]; ok {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (r *fakeDocumentRepo) FindDuplicate(_ context.Context, userID, name string, sizeBytes int64) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.UserID == userID && doc.Name == name && doc.SizeBytes == sizeBytes {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeDocumentRepo) UpdateStatus(_ context.Context, id string, status domain.DocumentStatus, errMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "fake update", fmt.Errorf("id %s", id))
	}
	doc.Status = status
	doc.ProcessingError = errMessage
	return nil
}

func (r *fakeDocumentRepo) SetPageCount(_ context.Context, id string, pageCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.PageCount = pageCount
	}
	return nil
}

func (r *fakeDocumentRepo) SaveTranscription(_ context.Context, id, transcription string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Transcription = transcription
	}
	return nil
}

func (r *fakeDocumentRepo) SetProgress(_ context.Context, id string, percent int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.ProcessingProgress = percent
	}
	return nil
}

func (r *fakeDocumentRepo) get(id string) *domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := r.docs[id]
	copied := *doc
	return &copied
}

type fakePageRepo struct {
	mu    sync.Mutex
	pages map[string][]domain.DocumentPage
}

func newFakePageRepo() *fakePageRepo {
	return &fakePageRepo{pages: make(map[string][]domain.DocumentPage)}
}

func (r *fakePageRepo) CreatePage(_ context.Context, page *domain.DocumentPage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[page.DocumentID] = append(r.pages[page.DocumentID], *page)
	return nil
}

func (r *fakePageRepo) ListByDocument(_ context.Context, documentID string) ([]domain.DocumentPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DocumentPage(nil), r.pages[documentID]...), nil
}

func (r *fakePageRepo) SetPageText(_ context.Context, documentID string, pageNumber int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pages := r.pages[documentID]
	for i := range pages {
		if pages[i].PageNumber == pageNumber {
			pages[i].TextContent = text
			return nil
		}
	}
	return domain.WrapError(domain.ErrDocumentNotFound, "fake set page text",
		fmt.Errorf("document %s page %d", documentID, pageNumber))
}

func (r *fakePageRepo) textFor(documentID string, pageNumber int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, page := range r.pages[documentID] {
		if page.PageNumber == pageNumber {
			return page.TextContent
		}
	}
	return ""
}

type fakeSchemaRepo struct {
	mu      sync.Mutex
	schemas map[string]*domain.DocumentSchema
	saves   int
}

func newFakeSchemaRepo() *fakeSchemaRepo {
	return &fakeSchemaRepo{schemas: make(map[string]*domain.DocumentSchema)}
}

func (r *fakeSchemaRepo) Save(_ context.Context, schema *domain.DocumentSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *schema
	r.schemas[schema.ID] = &copied
	r.saves++
	return nil
}

func (r *fakeSchemaRepo) GetByID(_ context.Context, id string) (*domain.DocumentSchema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schema, ok := r.schemas[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSchemaNotFound, "fake get", fmt.Errorf("id %s", id))
	}
	copied := *schema
	return &copied, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	logs    []domain.ProcessingLog
	prompts []domain.PromptAudit
}

func (r *fakeAuditRepo) AppendLog(_ context.Context, entry *domain.ProcessingLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, *entry)
	return nil
}

func (r *fakeAuditRepo) ListLogsByDocument(_ context.Context, documentID string) ([]domain.ProcessingLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ProcessingLog
	for _, entry := range r.logs {
		if entry.DocumentID == documentID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *fakeAuditRepo) RecordPrompt(_ context.Context, record *domain.PromptAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, *record)
	return nil
}

func (r *fakeAuditRepo) logsFor(documentID, action string) []domain.ProcessingLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ProcessingLog
	for _, entry := range r.logs {
		if entry.DocumentID == documentID && entry.Action == action {
			out = append(out, entry)
		}
	}
	return out
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	saves   int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Save(_ context.Context, key string, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = content
	s.saves++
	return nil
}

func (s *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *fakeStorage) PublicURL(key string) string {
	return "http://files.local/" + key
}

type fakeQueue struct {
	mu        sync.Mutex
	published []string
}

func (q *fakeQueue) PublishDocumentIngested(_ context.Context, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, documentID)
	return nil
}

func (q *fakeQueue) SubscribeDocumentIngested(context.Context, func(context.Context, string) error) error {
	return nil
}

type fakeRenderer struct {
	report *domain.RenderReport
	err    error
}

func (r *fakeRenderer) RenderPages(context.Context, domain.DocumentKind, io.Reader) (*domain.RenderReport, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.report, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(level domain.NotifyLevel, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%s:%s", level, title))
}

func (n *fakeNotifier) count(event string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e == event {
			c++
		}
	}
	return c
}

// fakeGateway answers by operation; transcripts are keyed by the first
// document id in the prompt.
type fakeGateway struct {
	mu sync.Mutex

	transcripts      map[string]string
	transcribeErrs   map[string]error
	schema           *domain.DocumentSchema
	schemaErr        error
	extraction       *domain.ExtractionResult
	extractionErr    error
	invocations      []domain.Prompt
	refinementSchema *domain.DocumentSchema
}

func (g *fakeGateway) Invoke(_ context.Context, prompt domain.Prompt) (*domain.InvocationResult, error) {
	g.mu.Lock()
	g.invocations = append(g.invocations, prompt)
	g.mu.Unlock()

	switch prompt.Operation {
	case domain.OpTranscribe:
		docID := prompt.DocumentIDs[0]
		if err := g.transcribeErrs[docID]; err != nil {
			return nil, err
		}
		return &domain.InvocationResult{
			Operation:     prompt.Operation,
			Transcription: g.transcripts[docID],
		}, nil
	case domain.OpGenerateSchema:
		if g.schemaErr != nil {
			return nil, g.schemaErr
		}
		schema := g.schema
		if g.refinementSchema != nil && len(g.invocationsFor(domain.OpGenerateSchema)) > 1 {
			schema = g.refinementSchema
		}
		copied := *schema
		return &domain.InvocationResult{Operation: prompt.Operation, Schema: &copied}, nil
	case domain.OpExtractData:
		if g.extractionErr != nil {
			return nil, g.extractionErr
		}
		copied := *g.extraction
		return &domain.InvocationResult{Operation: prompt.Operation, Extraction: &copied}, nil
	default:
		return &domain.InvocationResult{Operation: prompt.Operation, Completed: true}, nil
	}
}

func (g *fakeGateway) invocationsFor(operation domain.Operation) []domain.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Prompt
	for _, p := range g.invocations {
		if p.Operation == operation {
			out = append(out, p)
		}
	}
	return out
}

// stubPrompts builds minimal prompts carrying just the routing fields the
// orchestrator depends on.
type stubPrompts struct{}

func (stubPrompts) Transcription(doc *domain.Document, pages []domain.DocumentPage) domain.Prompt {
	return domain.Prompt{
		Operation:   domain.OpTranscribe,
		DocumentIDs: []string{doc.ID},
		Text:        fmt.Sprintf("transcribe %d pages", len(pages)),
	}
}

func (stubPrompts) SchemaGeneration(docs []domain.Document) domain.Prompt {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return domain.Prompt{Operation: domain.OpGenerateSchema, DocumentIDs: ids, Text: "generate"}
}

func (stubPrompts) SchemaRefinement(schema *domain.DocumentSchema, feedback string) domain.Prompt {
	return domain.Prompt{Operation: domain.OpGenerateSchema, Text: "refine " + schema.Name + ": " + feedback}
}

func (stubPrompts) DataExtraction(doc *domain.Document, _ *domain.DocumentSchema) domain.Prompt {
	return domain.Prompt{Operation: domain.OpExtractData, DocumentIDs: []string{doc.ID}, Text: "extract"}
}

type fakeConverter struct {
	mu     sync.Mutex
	called []string
	pages  *fakePageRepo
	docID  string
}

func (c *fakeConverter) ConvertByID(ctx context.Context, documentID string) error {
	c.mu.Lock()
	c.called = append(c.called, documentID)
	c.mu.Unlock()
	if c.pages != nil {
		return c.pages.CreatePage(ctx, &domain.DocumentPage{
			ID:         "page-" + documentID,
			DocumentID: documentID,
			PageNumber: 1,
			ImagePath:  "users/u/" + documentID + "/pages/page_001.jpg",
		})
	}
	return nil
}
