package usecase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// uploadPollInterval bounds how often the upload gate re-checks the tracker
// while files are still in flight.
const uploadPollInterval = 200 * time.Millisecond

type session struct {
	id       string
	userID   string
	docIDs   []string
	steps    []*domain.PipelineStep
	schemaID string
	approved bool

	schemaTables int
	schemaFields int
}

// PipelineOrchestrator drives processing sessions through the four ordered
// stages: upload, transcription, schema generation, schema refinement.
// Stages are strictly sequential; a later stage never enters in_progress
// while an earlier one is not completed. It is the single place that decides
// whether an error is partial (continue) or fatal (halt the stage).
type PipelineOrchestrator struct {
	repo      ports.DocumentRepository
	pages     ports.PageRepository
	schemas   ports.SchemaRepository
	audit     ports.AuditRepository
	gateway   ports.InferenceGateway
	prompts   ports.PromptBuilder
	converter ports.DocumentConverter
	tracker   *UploadTracker
	notifier  ports.Notifier

	mu       sync.Mutex
	sessions map[string]*session
}

func NewPipelineOrchestrator(
	repo ports.DocumentRepository,
	pages ports.PageRepository,
	schemas ports.SchemaRepository,
	audit ports.AuditRepository,
	gateway ports.InferenceGateway,
	prompts ports.PromptBuilder,
	converter ports.DocumentConverter,
	tracker *UploadTracker,
	notifier ports.Notifier,
) *PipelineOrchestrator {
	return &PipelineOrchestrator{
		repo:      repo,
		pages:     pages,
		schemas:   schemas,
		audit:     audit,
		gateway:   gateway,
		prompts:   prompts,
		converter: converter,
		tracker:   tracker,
		notifier:  notifier,
		sessions:  make(map[string]*session),
	}
}

// StartSession registers a processing session over the given documents with
// all four steps in waiting.
func (o *PipelineOrchestrator) StartSession(ctx context.Context, user *domain.User, documentIDs []string) (string, error) {
	if user == nil || user.ID == "" {
		return "", domain.WrapError(domain.ErrUnauthorized, "start session", fmt.Errorf("missing user"))
	}
	if len(documentIDs) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "start session", fmt.Errorf("no documents selected"))
	}

	docs, err := o.repo.ListByIDs(ctx, documentIDs)
	if err != nil {
		return "", fmt.Errorf("load session documents: %w", err)
	}
	if len(docs) != len(documentIDs) {
		return "", domain.WrapError(domain.ErrDocumentNotFound, "start session",
			fmt.Errorf("found %d of %d documents", len(docs), len(documentIDs)))
	}

	s := &session{
		id:     uuid.NewString(),
		userID: user.ID,
		docIDs: append([]string(nil), documentIDs...),
	}
	for _, stage := range domain.Stages() {
		s.steps = append(s.steps, &domain.PipelineStep{
			ID:          uuid.NewString(),
			Stage:       stage,
			Name:        stageName(stage),
			Description: stageDescription(stage),
			Status:      domain.StepWaiting,
			UpdatedAt:   time.Now().UTC(),
		})
	}

	o.mu.Lock()
	o.sessions[s.id] = s
	o.mu.Unlock()
	return s.id, nil
}

// Run executes the stage sequence from the first non-completed stage.
// Schema refinement is left in_progress awaiting explicit approval.
func (o *PipelineOrchestrator) Run(ctx context.Context, sessionID string) error {
	s, err := o.session(sessionID)
	if err != nil {
		return err
	}

	for _, stage := range domain.Stages() {
		step := o.step(s, stage)
		if step.Status == domain.StepCompleted {
			continue
		}
		if err := o.runStage(ctx, s, stage); err != nil {
			return err
		}
		// Refinement stays in_progress until the user approves.
		if stage == domain.StageSchemaRefinement {
			break
		}
	}
	return nil
}

// RetryStage re-runs only the failed stage's work, then resumes the
// sequence. Already-completed per-document work is not redone.
func (o *PipelineOrchestrator) RetryStage(ctx context.Context, sessionID string) error {
	s, err := o.session(sessionID)
	if err != nil {
		return err
	}

	var failed *domain.PipelineStep
	o.mu.Lock()
	for _, step := range s.steps {
		if step.Status == domain.StepFailed {
			failed = step
			break
		}
	}
	o.mu.Unlock()
	if failed == nil {
		return domain.WrapError(domain.ErrInvalidInput, "retry stage", fmt.Errorf("no failed stage to retry"))
	}

	o.setStep(s, failed.Stage, domain.StepInProgress, failed.Progress, "")
	return o.Run(ctx, sessionID)
}

// ApproveSchema completes the refinement stage.
func (o *PipelineOrchestrator) ApproveSchema(ctx context.Context, sessionID string) error {
	s, err := o.session(sessionID)
	if err != nil {
		return err
	}
	step := o.step(s, domain.StageSchemaRefinement)
	if step.Status != domain.StepInProgress {
		return domain.WrapError(domain.ErrInvalidInput, "approve schema",
			fmt.Errorf("refinement stage is %s, not awaiting approval", step.Status))
	}

	o.mu.Lock()
	s.approved = true
	o.mu.Unlock()
	o.setStep(s, domain.StageSchemaRefinement, domain.StepCompleted, 100, "")
	o.notify(domain.NotifySuccess, "Schema approved", "processing complete")
	o.logBatch(ctx, s, "schema_approval", domain.LogSuccess, "schema approved by user")
	return nil
}

// RequestSchemaChanges routes the user's feedback through the conversational
// refinement flow: the schema is regenerated in place and the stage stays
// in_progress. It never fails the stage.
func (o *PipelineOrchestrator) RequestSchemaChanges(ctx context.Context, sessionID, feedback string) error {
	s, err := o.session(sessionID)
	if err != nil {
		return err
	}
	step := o.step(s, domain.StageSchemaRefinement)
	if step.Status != domain.StepInProgress {
		return domain.WrapError(domain.ErrInvalidInput, "request schema changes",
			fmt.Errorf("refinement stage is %s", step.Status))
	}

	schema, err := o.sessionSchema(ctx, s)
	if err != nil {
		return err
	}

	prompt := o.prompts.SchemaRefinement(schema, feedback)
	prompt.DocumentIDs = append([]string(nil), s.docIDs...)
	result, err := o.gateway.Invoke(ctx, prompt)
	if err != nil {
		// Surfaced to the user as a dismissible problem; the stage itself
		// remains in_progress and can be asked again.
		o.notify(domain.NotifyError, "Schema refinement failed", err.Error())
		return err
	}
	if result.Schema == nil {
		return domain.WrapError(domain.ErrMalformedResponse, "refine schema", fmt.Errorf("response carried no schema"))
	}

	refined := result.Schema
	refined.ID = schema.ID
	refined.UserID = schema.UserID
	refined.CreatedAt = schema.CreatedAt
	refined.UpdatedAt = time.Now().UTC()
	if err := o.schemas.Save(ctx, refined); err != nil {
		return fmt.Errorf("save refined schema: %w", err)
	}

	o.mu.Lock()
	s.schemaTables = refined.TableCount()
	s.schemaFields = refined.FieldCount()
	o.mu.Unlock()
	o.notify(domain.NotifyInfo, "Schema updated", "refinement applied, awaiting approval")
	return nil
}

// ExtractData runs the extraction operation per document against the
// approved schema. Available only after approval.
func (o *PipelineOrchestrator) ExtractData(ctx context.Context, sessionID string) ([]domain.ExtractionResult, error) {
	s, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	approved := s.approved
	o.mu.Unlock()
	if !approved {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract data", fmt.Errorf("schema not approved"))
	}

	schema, err := o.sessionSchema(ctx, s)
	if err != nil {
		return nil, err
	}

	docs, err := o.repo.ListByIDs(ctx, s.docIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents for extraction: %w", err)
	}

	results := make([]domain.ExtractionResult, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		if doc.Transcription == "" {
			continue
		}
		prompt := o.prompts.DataExtraction(doc, schema)
		result, err := o.gateway.Invoke(ctx, prompt)
		if err != nil {
			o.appendLog(ctx, doc.ID, "data_extraction", domain.LogError, err.Error())
			continue
		}
		if result.Extraction == nil {
			o.appendLog(ctx, doc.ID, "data_extraction", domain.LogError, "response carried no extraction payload")
			continue
		}
		extraction := *result.Extraction
		extraction.DocumentID = doc.ID
		results = append(results, extraction)
		o.appendLog(ctx, doc.ID, "data_extraction", domain.LogSuccess,
			fmt.Sprintf("extracted %d tables, confidence %.2f", len(extraction.Records), extraction.Confidence))
	}
	return results, nil
}

// Steps returns a copy of the session's step states in stage order.
func (o *PipelineOrchestrator) Steps(sessionID string) ([]domain.PipelineStep, error) {
	s, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]domain.PipelineStep, 0, len(s.steps))
	for _, step := range s.steps {
		out = append(out, *step)
	}
	return out, nil
}

// Stats computes progress from the live registry and cached schema counts.
func (o *PipelineOrchestrator) Stats(ctx context.Context, sessionID string) (*domain.PipelineStats, error) {
	s, err := o.session(sessionID)
	if err != nil {
		return nil, err
	}

	docs, err := o.repo.ListByIDs(ctx, s.docIDs)
	if err != nil {
		return nil, fmt.Errorf("load documents for stats: %w", err)
	}
	processed := 0
	for _, doc := range docs {
		if doc.Status == domain.StatusProcessed {
			processed++
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return &domain.PipelineStats{
		DocumentCount:      len(s.docIDs),
		ProcessedDocuments: processed,
		SchemaDetails: domain.SchemaDetails{
			Tables: s.schemaTables,
			Fields: s.schemaFields,
		},
	}, nil
}

func (o *PipelineOrchestrator) IsProcessingComplete(sessionID string) bool {
	s, err := o.session(sessionID)
	if err != nil {
		return false
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, step := range s.steps {
		if step.Status != domain.StepCompleted {
			return false
		}
	}
	return true
}

func (o *PipelineOrchestrator) runStage(ctx context.Context, s *session, stage domain.Stage) error {
	switch stage {
	case domain.StageUpload:
		return o.runUpload(ctx, s)
	case domain.StageTranscription:
		return o.runTranscription(ctx, s)
	case domain.StageSchemaGeneration:
		return o.runSchemaGeneration(ctx, s)
	case domain.StageSchemaRefinement:
		o.setStep(s, domain.StageSchemaRefinement, domain.StepInProgress, 0, "")
		o.notify(domain.NotifyInfo, "Schema ready", "review the generated schema")
		return nil
	default:
		return fmt.Errorf("unknown stage %q", stage)
	}
}

// runUpload completes once every session document exists in the registry and
// the tracker reports no byte transfer still in flight. Page rendering does
// not gate this stage; the transcription stage converts missing pages itself.
func (o *PipelineOrchestrator) runUpload(ctx context.Context, s *session) error {
	o.setStep(s, domain.StageUpload, domain.StepInProgress, 0, "")

	for o.tracker != nil && o.tracker.IsUploading() {
		select {
		case <-ctx.Done():
			err := fmt.Errorf("waiting for uploads: %w", ctx.Err())
			o.setStep(s, domain.StageUpload, domain.StepFailed, 0, err.Error())
			return err
		case <-time.After(uploadPollInterval):
		}
	}

	docs, err := o.repo.ListByIDs(ctx, s.docIDs)
	if err != nil {
		o.setStep(s, domain.StageUpload, domain.StepFailed, 0, err.Error())
		return fmt.Errorf("verify uploaded documents: %w", err)
	}
	if len(docs) != len(s.docIDs) {
		msg := fmt.Sprintf("only %d of %d documents registered", len(docs), len(s.docIDs))
		o.setStep(s, domain.StageUpload, domain.StepFailed, 0, msg)
		return domain.WrapError(domain.ErrStageFailed, "upload stage", fmt.Errorf("%s", msg))
	}

	o.setStep(s, domain.StageUpload, domain.StepCompleted, 100, "")
	return nil
}

// runTranscription transcribes documents one at a time. A per-document
// failure flags that document and moves on; the stage fails only when no
// document yields a transcript.
func (o *PipelineOrchestrator) runTranscription(ctx context.Context, s *session) error {
	o.setStep(s, domain.StageTranscription, domain.StepInProgress, 0, "")

	total := len(s.docIDs)
	done := 0
	transcribed := 0

	for _, docID := range s.docIDs {
		doc, err := o.repo.GetByID(ctx, docID)
		if err != nil {
			// Registry unreachable is fatal for the whole stage.
			o.setStep(s, domain.StageTranscription, domain.StepFailed, stagePercent(done, total), err.Error())
			return fmt.Errorf("load document %s: %w", docID, err)
		}

		// Retry granularity is per document: keep finished transcripts.
		if doc.Transcription != "" {
			done++
			transcribed++
			o.setStep(s, domain.StageTranscription, domain.StepInProgress, stagePercent(done, total), "")
			continue
		}

		if err := o.transcribeDocument(ctx, s, doc); err != nil {
			o.flagDocument(ctx, doc.ID, "transcription", err)
		} else {
			transcribed++
		}
		done++
		o.setStep(s, domain.StageTranscription, domain.StepInProgress, stagePercent(done, total), "")
	}

	if transcribed == 0 {
		msg := "no documents could be transcribed"
		o.setStep(s, domain.StageTranscription, domain.StepFailed, 100, msg)
		return domain.WrapError(domain.ErrStageFailed, "transcription stage", fmt.Errorf("%s", msg))
	}

	o.setStep(s, domain.StageTranscription, domain.StepCompleted, 100, "")
	return nil
}

func (o *PipelineOrchestrator) transcribeDocument(ctx context.Context, s *session, doc *domain.Document) error {
	pages, err := o.pages.ListByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list pages: %w", err)
	}
	// The eager worker normally renders pages right after upload; fall back
	// to synchronous conversion when it has not caught up.
	if len(pages) == 0 {
		if err := o.converter.ConvertByID(ctx, doc.ID); err != nil {
			return fmt.Errorf("convert pages: %w", err)
		}
		pages, err = o.pages.ListByDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("list pages after conversion: %w", err)
		}
		if len(pages) == 0 {
			return fmt.Errorf("document has no rendered pages")
		}
	}

	if err := o.repo.UpdateStatus(ctx, doc.ID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	prompt := o.prompts.Transcription(doc, pages)
	result, err := o.gateway.Invoke(ctx, prompt)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if result.Transcription == "" {
		return domain.WrapError(domain.ErrMalformedResponse, "transcribe", fmt.Errorf("empty transcription for %s", doc.ID))
	}

	if err := o.repo.SaveTranscription(ctx, doc.ID, result.Transcription); err != nil {
		return fmt.Errorf("save transcription: %w", err)
	}
	o.storePageTexts(ctx, doc.ID, result.Transcription)
	if err := o.repo.SetProgress(ctx, doc.ID, 100); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if err := o.repo.UpdateStatus(ctx, doc.ID, domain.StatusProcessed, ""); err != nil {
		return fmt.Errorf("set status=processed: %w", err)
	}
	o.appendLog(ctx, doc.ID, "transcription", domain.LogSuccess,
		fmt.Sprintf("%d characters from %d pages", len(result.Transcription), len(pages)))
	return nil
}

// runSchemaGeneration invokes the backend once over the whole transcribed
// batch. Failure here is fatal for the stage, with the backend error
// attached verbatim.
func (o *PipelineOrchestrator) runSchemaGeneration(ctx context.Context, s *session) error {
	o.setStep(s, domain.StageSchemaGeneration, domain.StepInProgress, 0, "")

	docs, err := o.repo.ListByIDs(ctx, s.docIDs)
	if err != nil {
		o.setStep(s, domain.StageSchemaGeneration, domain.StepFailed, 0, err.Error())
		return fmt.Errorf("load documents for schema generation: %w", err)
	}
	transcribed := docs[:0:0]
	for _, doc := range docs {
		if doc.Transcription != "" {
			transcribed = append(transcribed, doc)
		}
	}
	if len(transcribed) == 0 {
		msg := "no transcribed documents available"
		o.setStep(s, domain.StageSchemaGeneration, domain.StepFailed, 0, msg)
		return domain.WrapError(domain.ErrStageFailed, "schema generation", fmt.Errorf("%s", msg))
	}

	prompt := o.prompts.SchemaGeneration(transcribed)
	result, err := o.gateway.Invoke(ctx, prompt)
	if err != nil {
		o.setStep(s, domain.StageSchemaGeneration, domain.StepFailed, 0, err.Error())
		return err
	}
	if result.Schema == nil {
		err := domain.WrapError(domain.ErrMalformedResponse, "schema generation", fmt.Errorf("response carried no schema"))
		o.setStep(s, domain.StageSchemaGeneration, domain.StepFailed, 0, err.Error())
		return err
	}

	schema := result.Schema
	schema.ID = uuid.NewString()
	schema.UserID = s.userID
	schema.CreatedAt = time.Now().UTC()
	schema.UpdatedAt = schema.CreatedAt
	if err := o.schemas.Save(ctx, schema); err != nil {
		o.setStep(s, domain.StageSchemaGeneration, domain.StepFailed, 0, err.Error())
		return fmt.Errorf("save generated schema: %w", err)
	}

	o.mu.Lock()
	s.schemaID = schema.ID
	s.schemaTables = schema.TableCount()
	s.schemaFields = schema.FieldCount()
	o.mu.Unlock()

	o.setStep(s, domain.StageSchemaGeneration, domain.StepCompleted, 100, "")
	o.logBatch(ctx, s, "schema_generation", domain.LogSuccess,
		fmt.Sprintf("%d tables, %d fields over %d documents", schema.TableCount(), schema.FieldCount(), len(transcribed)))
	return nil
}

// pageMarker matches the per-page delimiter the transcription prompt asks
// the backend to emit.
var pageMarker = regexp.MustCompile(`(?m)^--- page (\d+) ---$`)

// storePageTexts splits the transcript on page markers and backfills each
// page row's text. Best effort: a transcript without markers, or one whose
// page numbers do not match, leaves the rows untouched.
func (o *PipelineOrchestrator) storePageTexts(ctx context.Context, documentID, transcript string) {
	matches := pageMarker.FindAllStringSubmatchIndex(transcript, -1)
	for i, match := range matches {
		number, err := strconv.Atoi(transcript[match[2]:match[3]])
		if err != nil {
			continue
		}
		end := len(transcript)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		text := strings.TrimSpace(transcript[match[1]:end])
		if text == "" {
			continue
		}
		if err := o.pages.SetPageText(ctx, documentID, number, text); err != nil {
			o.appendLog(ctx, documentID, "transcription", domain.LogWarning,
				fmt.Sprintf("page %d text not stored: %v", number, err))
		}
	}
}

// flagDocument records a per-document failure without aborting the batch.
func (o *PipelineOrchestrator) flagDocument(ctx context.Context, documentID, action string, cause error) {
	o.appendLog(ctx, documentID, action, domain.LogError, cause.Error())
	_ = o.repo.UpdateStatus(ctx, documentID, domain.StatusFailed, cause.Error())
	o.notify(domain.NotifyError, "Document failed", cause.Error())
}

func (o *PipelineOrchestrator) sessionSchema(ctx context.Context, s *session) (*domain.DocumentSchema, error) {
	o.mu.Lock()
	schemaID := s.schemaID
	o.mu.Unlock()
	if schemaID == "" {
		return nil, domain.WrapError(domain.ErrSchemaNotFound, "load session schema", fmt.Errorf("schema not generated yet"))
	}
	schema, err := o.schemas.GetByID(ctx, schemaID)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return schema, nil
}

func (o *PipelineOrchestrator) session(id string) (*session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "lookup session", fmt.Errorf("id=%s", id))
	}
	return s, nil
}

func (o *PipelineOrchestrator) step(s *session, stage domain.Stage) *domain.PipelineStep {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, step := range s.steps {
		if step.Stage == stage {
			return step
		}
	}
	return nil
}

// setStep updates a step, keeping displayed progress monotonic within a run.
func (o *PipelineOrchestrator) setStep(s *session, stage domain.Stage, status domain.StepStatus, progress int, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, step := range s.steps {
		if step.Stage != stage {
			continue
		}
		step.Status = status
		// Displayed progress is monotonically non-decreasing.
		if progress > step.Progress {
			step.Progress = progress
		}
		step.Error = errMsg
		step.UpdatedAt = time.Now().UTC()
		return
	}
}

func (o *PipelineOrchestrator) appendLog(ctx context.Context, documentID, action string, status domain.LogStatus, message string) {
	if o.audit == nil {
		return
	}
	_ = o.audit.AppendLog(ctx, &domain.ProcessingLog{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Action:     action,
		Status:     status,
		Message:    message,
		CreatedAt:  time.Now().UTC(),
	})
}

func (o *PipelineOrchestrator) logBatch(ctx context.Context, s *session, action string, status domain.LogStatus, message string) {
	for _, docID := range s.docIDs {
		o.appendLog(ctx, docID, action, status, message)
	}
}

func (o *PipelineOrchestrator) notify(level domain.NotifyLevel, title, message string) {
	if o.notifier != nil {
		o.notifier.Notify(level, title, message)
	}
}

func stagePercent(done, total int) int {
	if total < 1 {
		total = 1
	}
	return int(math.Round(float64(done) / float64(total) * 100))
}

func stageName(stage domain.Stage) string {
	switch stage {
	case domain.StageUpload:
		return "Upload"
	case domain.StageTranscription:
		return "Transcription"
	case domain.StageSchemaGeneration:
		return "Schema Generation"
	case domain.StageSchemaRefinement:
		return "Schema Refinement"
	default:
		return string(stage)
	}
}

func stageDescription(stage domain.Stage) string {
	switch stage {
	case domain.StageUpload:
		return "Store files and register documents"
	case domain.StageTranscription:
		return "Render pages and transcribe handwriting"
	case domain.StageSchemaGeneration:
		return "Infer a tabular schema from the transcripts"
	case domain.StageSchemaRefinement:
		return "Review and refine the schema until approval"
	default:
		return ""
	}
}
