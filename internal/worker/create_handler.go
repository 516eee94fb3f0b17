package worker

import (
	"context"
	"errors"
	"log/slog"

	"podforge/internal/pipeline"
	"podforge/internal/queue"
)

// CreateHandler binds pod:create tasks to the orchestrator.
type CreateHandler struct {
	orch   *pipeline.Orchestrator
	logger *slog.Logger
}

// NewCreateHandler builds the orchestrator task adapter.
func NewCreateHandler(orch *pipeline.Orchestrator, logger *slog.Logger) *CreateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateHandler{orch: orch, logger: logger}
}

// Handle runs one creation job. Stage failures are already terminal on the
// job row when Run returns, so the error is logged but never returned: a
// failed job is not requeued automatically.
func (h *CreateHandler) Handle(ctx context.Context, task queue.Task) error {
	if task.JobID == "" {
		return errors.New("pod:create task missing job_id")
	}
	if err := h.orch.Run(ctx, task.JobID); err != nil {
		h.logger.Error("creation job did not complete", "job_id", task.JobID, "trace_id", task.TraceID, "error", err)
	}
	return nil
}
