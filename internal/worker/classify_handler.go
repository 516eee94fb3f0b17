package worker

import (
	"context"
	"errors"
	"log/slog"

	"podforge/internal/models"
	"podforge/internal/pipeline"
	"podforge/internal/queue"
	"podforge/internal/telemetry"
)

// ClassifyHandler binds draft:classify tasks to the context gate. Transient
// gateway failures are returned so the processor retries them with backoff.
type ClassifyHandler struct {
	classifier *pipeline.Classifier
	logger     *slog.Logger
}

// NewClassifyHandler builds the classification task adapter.
func NewClassifyHandler(classifier *pipeline.Classifier, logger *slog.Logger) *ClassifyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifyHandler{classifier: classifier, logger: logger}
}

// Handle runs the gate for one draft.
func (h *ClassifyHandler) Handle(ctx context.Context, task queue.Task) error {
	if task.DraftID == "" {
		return errors.New("draft:classify task missing draft_id")
	}
	decision, err := h.classifier.Classify(ctx, task.DraftID)
	if err != nil {
		return err
	}
	if decision.Verdict == models.VerdictRejected {
		telemetry.DraftsRejected.Inc()
	}
	return nil
}
