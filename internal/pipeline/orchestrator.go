package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/store"
	"podforge/internal/telemetry"
)

// JobStore is the job-side persistence consumed by the orchestrator.
type JobStore interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	IncrementJobAttempts(ctx context.Context, id string) error
	MarkJobProcessing(ctx context.Context, id string) error
	MarkJobCompleted(ctx context.Context, id string) error
	MarkJobFailed(ctx context.Context, id, message string) error
	SetJobPod(ctx context.Context, id, podID string) error
}

// PodStore is the content-side persistence consumed by the orchestrator.
type PodStore interface {
	CreatePod(ctx context.Context, p store.CreatePodParams) (models.Pod, error)
	MarkPodProcessing(ctx context.Context, id string) error
}

// Dispatcher enqueues fan-out tasks.
type Dispatcher interface {
	Enqueue(ctx context.Context, task queue.Task) error
}

// DispatchOutcome is one entry of the settle-all dispatch result: the task
// that was enqueued (or attempted) and the error, if any.
type DispatchOutcome struct {
	Task queue.Task
	Err  error
}

// Orchestrator owns the creation-job state machine: hydrate, curate, write,
// persist the pod, fan out, complete.
type Orchestrator struct {
	jobs       JobStore
	pods       PodStore
	curator    *Curator
	writer     *Writer
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewOrchestrator wires the two-stage pipeline and its collaborators.
func NewOrchestrator(jobs JobStore, pods PodStore, curator *Curator, writer *Writer, dispatcher Dispatcher, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:       jobs,
		pods:       pods,
		curator:    curator,
		writer:     writer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run executes one creation job to a terminal state. Stage failures are
// written onto the job row before the error is returned; the returned error
// is for logging only and must not trigger a requeue.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	logger := o.logger.With("job_id", job.ID, "trace_id", job.TraceID)

	if err := o.jobs.MarkJobProcessing(ctx, job.ID); err != nil {
		if errors.Is(err, store.ErrTerminalStatus) {
			logger.Info("job already settled, skipping")
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}
	if err := o.jobs.IncrementJobAttempts(ctx, job.ID); err != nil {
		logger.Warn("record job attempt", "error", err)
	}

	dossier := o.curator.Research(ctx, CuratorParams{
		Purpose:  job.Payload.Purpose,
		Topic:    job.Payload.Topic,
		Inputs:   job.Payload.Inputs,
		Duration: job.Payload.Duration,
		Depth:    job.Payload.Depth,
	})
	logger.Info("dossier ready", "facts", len(dossier.Facts), "sources", len(dossier.Sources))

	script, err := o.writer.Compose(ctx, dossier, WriterParams{
		Style:     job.Payload.Style,
		Duration:  job.Payload.Duration,
		Depth:     job.Payload.Depth,
		Tone:      job.Payload.Tone,
		Archetype: job.Payload.Archetype,
	})
	if err != nil {
		return o.fail(ctx, logger, job.ID, fmt.Errorf("writer stage: %w", err))
	}

	title := script.Title
	if title == "" {
		title = job.Payload.Topic
	}
	pod, err := o.pods.CreatePod(ctx, store.CreatePodParams{
		UserID:      job.UserID,
		Title:       title,
		Script:      script,
		Sources:     dossier.Sources,
		ParentPodID: job.Payload.ParentPodID,
		Settings:    job.Payload,
	})
	if err != nil {
		return o.fail(ctx, logger, job.ID, fmt.Errorf("create pod: %w", err))
	}
	logger.Info("pod created", "pod_id", pod.ID, "title", pod.Title)

	if err := o.jobs.SetJobPod(ctx, job.ID, pod.ID); err != nil {
		return o.fail(ctx, logger, job.ID, fmt.Errorf("link pod to job: %w", err))
	}
	if err := o.pods.MarkPodProcessing(ctx, pod.ID); err != nil {
		logger.Warn("mark pod processing", "error", err)
	}

	// Dispatch errors are surfaced and counted but never fail the job: each
	// worker owns its own failure reporting on the pod.
	outcomes := o.dispatch(ctx, job, pod.ID)
	for _, out := range outcomes {
		if out.Err != nil {
			telemetry.DispatchFailures.Inc()
			logger.Error("fan-out dispatch failed", "task_type", out.Task.Type, "error", out.Err)
		} else {
			telemetry.DispatchSuccess.Inc()
			logger.Info("fan-out dispatched", "task_type", out.Task.Type, "task_id", out.Task.ID)
		}
	}

	if err := o.jobs.MarkJobCompleted(ctx, job.ID); err != nil {
		return o.fail(ctx, logger, job.ID, fmt.Errorf("mark completed: %w", err))
	}
	telemetry.JobsCompleted.Inc()
	logger.Info("job completed", "pod_id", pod.ID)
	return nil
}

// dispatch enqueues the three fan-out workers, settling all attempts and
// returning every outcome regardless of individual failures.
func (o *Orchestrator) dispatch(ctx context.Context, job models.Job, podID string) []DispatchOutcome {
	types := []string{queue.TaskPodAudio, queue.TaskPodCover, queue.TaskPodEmbed}
	outcomes := make([]DispatchOutcome, 0, len(types))
	for _, taskType := range types {
		task := queue.NewTask(taskType)
		task.JobID = job.ID
		task.PodID = podID
		task.TraceID = job.TraceID
		outcomes = append(outcomes, DispatchOutcome{
			Task: task,
			Err:  o.dispatcher.Enqueue(ctx, task),
		})
	}
	return outcomes
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, jobID string, cause error) error {
	telemetry.JobsFailed.Inc()
	logger.Error("job failed", "error", cause)
	if err := o.jobs.MarkJobFailed(ctx, jobID, cause.Error()); err != nil {
		logger.Error("record job failure", "error", err)
	}
	return cause
}
