package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"podforge/internal/config"
	"podforge/internal/queue"
	"podforge/internal/telemetry"
)

// Handler executes one task of a given type.
type Handler func(ctx context.Context, task queue.Task) error

// DeadLetterFunc is invoked after a task exhausts its retries, before it is
// pushed to the DLQ. Used to write the explicit failed marker onto the pod.
type DeadLetterFunc func(ctx context.Context, task queue.Task)

// Processor drives the worker execution loop: promote scheduled tasks,
// reclaim expired leases, dequeue, run the registered handler, retry with
// jittered backoff, dead-letter on exhaustion.
type Processor struct {
	cfg        config.Config
	queue      *queue.RedisQueue
	handlers   map[string]Handler
	deadLetter DeadLetterFunc
	logger     *slog.Logger
}

// NewProcessor creates a worker loop over the queue.
func NewProcessor(cfg config.Config, q *queue.RedisQueue, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// RegisterHandler binds a handler to a task type.
func (p *Processor) RegisterHandler(taskType string, handler Handler) {
	if taskType == "" || handler == nil {
		return
	}
	p.handlers[taskType] = handler
}

// OnDeadLetter installs the dead-letter hook.
func (p *Processor) OnDeadLetter(fn DeadLetterFunc) {
	p.deadLetter = fn
}

// Run starts the main worker loop until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, _ = p.queue.PromoteScheduled(ctx, time.Now(), 100)
		if reclaimed, _ := p.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.logger.Warn("reclaimed expired leases", "count", len(reclaimed))
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		task, ok, err := p.queue.DequeueWithLease(ctx)
		if err != nil || !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.runTask(ctx, task)
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) runTask(ctx context.Context, task queue.Task) {
	logger := p.logger.With("task_id", task.ID, "task_type", task.Type, "trace_id", task.TraceID)

	handler, ok := p.handlers[task.Type]
	if !ok {
		logger.Error("no handler registered, dead-lettering")
		_ = p.queue.Ack(ctx, task.ID)
		_ = p.queue.DLQPush(ctx, task)
		telemetry.WorkerDeadLetter.Inc()
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go p.heartbeat(heartbeatCtx, task.ID)
	err := handler(ctx, task)
	stopHeartbeat()

	if err == nil {
		_ = p.queue.Ack(ctx, task.ID)
		telemetry.WorkerSuccess.Inc()
		logger.Info("task completed")
		return
	}

	task.Attempts++
	if task.Attempts >= p.cfg.MaxAttempts {
		_ = p.queue.Ack(ctx, task.ID)
		if p.deadLetter != nil {
			p.deadLetter(ctx, task)
		}
		_ = p.queue.DLQPush(ctx, task)
		telemetry.WorkerDeadLetter.Inc()
		logger.Error("task dead-lettered", "attempts", task.Attempts, "error", err)
		return
	}

	backoff := backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, task.Attempts)
	nextRun := time.Now().Add(backoff)
	_ = p.queue.Ack(ctx, task.ID)
	if qerr := p.queue.Schedule(ctx, task, nextRun); qerr != nil {
		logger.Error("schedule retry", "error", qerr)
	}
	telemetry.WorkerFailures.Inc()
	logger.Warn("task failed, retry scheduled",
		"attempts", task.Attempts,
		"next_run", nextRun.UTC().Format(time.RFC3339),
		"error", fmt.Sprintf("%v", err))
}

// heartbeat keeps the lease alive for handlers that outlive the visibility
// window, such as long audio renders.
func (p *Processor) heartbeat(ctx context.Context, taskID string) {
	interval := p.cfg.VisibilityTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.ExtendLease(ctx, taskID, p.cfg.VisibilityTimeout); err != nil {
				p.logger.Warn("extend lease", "task_id", taskID, "error", err)
			}
		}
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
