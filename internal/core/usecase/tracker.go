package usecase

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// UploadTracker holds the ephemeral per-file upload/processing entries for
// one session. All operations are best-effort and non-throwing: an unknown
// id is silently ignored because the entry may have been cleared.
//
// Byte-progress callbacks arrive asynchronously and interleaved across
// files, so every method takes the mutex.
type UploadTracker struct {
	notifier ports.Notifier

	mu        sync.Mutex
	entries   map[string]*domain.UploadProgress
	order     []string
	byDocID   map[string]string
	completed map[string]bool
}

func NewUploadTracker(notifier ports.Notifier) *UploadTracker {
	return &UploadTracker{
		notifier:  notifier,
		entries:   make(map[string]*domain.UploadProgress),
		byDocID:   make(map[string]string),
		completed: make(map[string]bool),
	}
}

// Add creates a fresh entry with progress 0 and status uploading. Each call
// gets a unique id even for a repeated file name.
func (t *UploadTracker) Add(fileName string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := uuid.NewString()
	t.entries[id] = &domain.UploadProgress{
		ID:       id,
		FileName: fileName,
		Status:   domain.UploadUploading,
	}
	t.order = append(t.order, id)
	t.notify(domain.NotifyInfo, "Upload started", fileName)
	return id
}

// SetProgress updates the byte-transfer percentage, clamped to [0,100].
func (t *UploadTracker) SetProgress(id string, percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return
	}
	entry.Progress = clampPercent(percent)
}

// SetStatus transitions the entry's status. Transitioning into the same
// status twice never double-notifies.
func (t *UploadTracker) SetStatus(id string, status domain.UploadStatus, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return
	}
	transition := entry.Status != status
	entry.Status = status
	if message != "" {
		entry.Message = message
	}
	if !transition {
		return
	}

	switch status {
	case domain.UploadComplete:
		t.notify(domain.NotifySuccess, "Upload complete", entry.FileName)
	case domain.UploadError:
		if message != "" {
			t.notify(domain.NotifyError, "Upload failed", message)
		}
	case domain.UploadProcessing:
		if message != "" {
			t.notify(domain.NotifyInfo, "Processing", message)
		}
	}
}

// SetPageProgress recomputes the aggregate percentage from rendered pages.
// Partial progress forces the entry into processing; full completion
// transitions it to complete and emits the "fully processed" notification
// exactly once, even across repeated calls.
func (t *UploadTracker) SetPageProgress(id string, pagesProcessed, pageCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return
	}
	denominator := pageCount
	if denominator < 1 {
		denominator = 1
	}
	entry.Progress = clampPercent(int(math.Round(float64(pagesProcessed) / float64(denominator) * 100)))
	entry.PagesProcessed = pagesProcessed
	entry.PageCount = pageCount

	if pagesProcessed == pageCount && pageCount > 0 {
		entry.Status = domain.UploadComplete
		if !t.completed[id] {
			t.completed[id] = true
			t.notify(domain.NotifySuccess, "Document fully processed",
				fmt.Sprintf("%s (%d pages)", entry.FileName, pageCount))
		}
		return
	}
	entry.Status = domain.UploadProcessing
}

// BindDocument associates a registered document id with an upload entry so
// the converter can report page progress by document id.
func (t *UploadTracker) BindDocument(id, documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return
	}
	t.byDocID[documentID] = id
}

// PageProgress implements the converter's progress sink, addressed by
// document id. Unknown documents are ignored.
func (t *UploadTracker) PageProgress(documentID string, pagesProcessed, pageCount int) {
	t.mu.Lock()
	id, ok := t.byDocID[documentID]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.SetPageProgress(id, pagesProcessed, pageCount)
}

// Clear empties all tracked uploads, used between sessions.
func (t *UploadTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[string]*domain.UploadProgress)
	t.order = nil
	t.byDocID = make(map[string]string)
	t.completed = make(map[string]bool)
}

// IsUploading reports whether any tracked entry still has its byte transfer
// in flight. The orchestrator polls this to gate the upload stage. Entries
// in processing do not block: page rendering runs in the worker and the
// transcription stage converts any document whose pages are missing.
func (t *UploadTracker) IsUploading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.entries {
		if entry.Status == domain.UploadUploading {
			return true
		}
	}
	return false
}

// Snapshot returns the tracked entries in insertion order.
func (t *UploadTracker) Snapshot() []domain.UploadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]domain.UploadProgress, 0, len(t.order))
	for _, id := range t.order {
		if entry, ok := t.entries[id]; ok {
			out = append(out, *entry)
		}
	}
	return out
}

func (t *UploadTracker) notify(level domain.NotifyLevel, title, message string) {
	if t.notifier != nil {
		t.notifier.Notify(level, title, message)
	}
}

func clampPercent(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
