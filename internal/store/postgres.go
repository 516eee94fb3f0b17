package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"podforge/internal/models"
)

// ErrTerminalStatus is returned when a transition is attempted on a job that
// already reached completed or failed.
var ErrTerminalStatus = errors.New("job is in a terminal status")

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// PodNotifier receives the full updated pod row after every pod mutation.
// The realtime publisher implements it; a nil notifier disables publishing.
type PodNotifier interface {
	PublishPod(ctx context.Context, pod models.Pod) error
}

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool     *pgxpool.Pool
	notifier PodNotifier
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SetNotifier wires the change-notification publisher. Must be called before
// any pod mutation that should be observable by watchers.
func (s *Store) SetNotifier(n PodNotifier) {
	s.notifier = n
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateJobParams collects inputs required to insert a creation job.
type CreateJobParams struct {
	UserID         string
	Type           string
	Payload        models.JobPayload
	TraceID        string
	IdempotencyKey string
}

// CreateJob inserts a job row in pending status. When an idempotency key is
// supplied and already taken, the existing job is returned instead.
// The second return reports whether an existing job was reused.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.Type == "" {
		p.Type = "pod:create"
	}
	if p.TraceID == "" {
		p.TraceID = uuid.New().String()
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, type, payload, status, trace_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $8)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
	`, id, p.UserID, p.Type, payloadJSON, models.JobStatusPending, p.TraceID, p.IdempotencyKey, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.findJobByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return models.Job{}, false, err
		}
		return existing, true, nil
	}

	return models.Job{
		ID:        id,
		UserID:    p.UserID,
		Type:      p.Type,
		Payload:   p.Payload,
		Status:    models.JobStatusPending,
		TraceID:   p.TraceID,
		CreatedAt: now,
		UpdatedAt: now,
	}, false, nil
}

func (s *Store) findJobByIdempotencyKey(ctx context.Context, key string) (models.Job, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM jobs WHERE idempotency_key = $1
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("idempotency conflict but no existing job: %w", ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("query idempotency key: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, payload, status, pod_id, last_error, trace_id, attempts, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var payloadJSON []byte
	var podID, lastErr pgtype.Text

	if err := row.Scan(&job.ID, &job.UserID, &job.Type, &payloadJSON, &job.Status, &podID, &lastErr, &job.TraceID, &job.Attempts, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.PodID = textPtr(podID)
	job.LastError = textPtr(lastErr)
	return job, nil
}

// MarkJobProcessing transitions a pending job to processing. Terminal jobs
// reject the transition.
func (s *Store) MarkJobProcessing(ctx context.Context, id string) error {
	return s.transitionJob(ctx, id, models.JobStatusProcessing, nil)
}

// MarkJobCompleted transitions a job to completed.
func (s *Store) MarkJobCompleted(ctx context.Context, id string) error {
	return s.transitionJob(ctx, id, models.JobStatusCompleted, nil)
}

// MarkJobFailed transitions a job to failed, capturing the error message.
func (s *Store) MarkJobFailed(ctx context.Context, id, message string) error {
	return s.transitionJob(ctx, id, models.JobStatusFailed, &message)
}

func (s *Store) transitionJob(ctx context.Context, id, status string, lastErr *string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, status, lastErr, models.JobStatusCompleted, models.JobStatusFailed)
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", id, status, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("job %s to %s: %w", id, status, ErrTerminalStatus)
	}
	return nil
}

// SetJobPod writes the produced-content identifier back onto the job.
func (s *Store) SetJobPod(ctx context.Context, id, podID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET pod_id = $2, updated_at = NOW() WHERE id = $1
	`, id, podID)
	return err
}

// IncrementJobAttempts records one more run of the job's handler.
func (s *Store) IncrementJobAttempts(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET attempts = attempts + 1, updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}
