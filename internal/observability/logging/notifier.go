package logging

import (
	"log/slog"

	"github.com/scriptor-ai/scriptor/internal/core/domain"
	"github.com/scriptor-ai/scriptor/internal/core/ports"
)

// SlogNotifier renders user notifications as structured log lines. Stands in
// for a push channel; the upload tracker snapshot carries the same state to
// API clients.
type SlogNotifier struct {
	logger *slog.Logger
}

var _ ports.Notifier = (*SlogNotifier)(nil)

func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) Notify(level domain.NotifyLevel, title, message string) {
	attrs := []any{"title", title, "message", message}
	switch level {
	case domain.NotifyError:
		n.logger.Error("notification", attrs...)
	case domain.NotifySuccess:
		n.logger.Info("notification", append(attrs, "outcome", "success")...)
	default:
		n.logger.Info("notification", attrs...)
	}
}
