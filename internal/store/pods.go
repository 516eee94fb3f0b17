package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"podforge/internal/models"
)

// CreatePodParams collects inputs for the one-shot pod insert performed by
// the orchestrator.
type CreatePodParams struct {
	UserID      string
	Title       string
	Script      models.Script
	Sources     []models.Source
	ParentPodID string
	Settings    models.JobPayload
}

// CreatePod inserts the content record exactly once per job, in
// pending_approval with both readiness flags false.
func (s *Store) CreatePod(ctx context.Context, p CreatePodParams) (models.Pod, error) {
	sourcesJSON, err := json.Marshal(p.Sources)
	if err != nil {
		return models.Pod{}, fmt.Errorf("marshal sources: %w", err)
	}
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return models.Pod{}, fmt.Errorf("marshal settings: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pods (id, user_id, title, script_display, script_plain, status, processing_status, sources, parent_pod_id, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11, $11)
	`, id, p.UserID, p.Title, p.Script.BodyDisplay, p.Script.BodyPlain,
		models.PodStatusPendingApproval, models.ProcessingPending, sourcesJSON, p.ParentPodID, settingsJSON, now)
	if err != nil {
		return models.Pod{}, fmt.Errorf("insert pod: %w", err)
	}

	pod := models.Pod{
		ID:               id,
		UserID:           p.UserID,
		Title:            p.Title,
		ScriptDisplay:    p.Script.BodyDisplay,
		ScriptPlain:      p.Script.BodyPlain,
		Status:           models.PodStatusPendingApproval,
		ProcessingStatus: models.ProcessingPending,
		Sources:          p.Sources,
		Settings:         p.Settings,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.ParentPodID != "" {
		pod.ParentPodID = &p.ParentPodID
	}
	return pod, nil
}

// GetPod fetches a pod by id.
func (s *Store) GetPod(ctx context.Context, id string) (models.Pod, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, script_display, script_plain, status, audio_ready, image_ready,
		       processing_status, audio_url, image_url, duration_seconds, sources, parent_pod_id,
		       settings, embedding, created_at, updated_at
		FROM pods WHERE id = $1
	`, id)

	var pod models.Pod
	var audioURL, imageURL, parentID pgtype.Text
	var sourcesJSON, settingsJSON []byte
	var embeddingJSON []byte

	err := row.Scan(&pod.ID, &pod.UserID, &pod.Title, &pod.ScriptDisplay, &pod.ScriptPlain,
		&pod.Status, &pod.AudioReady, &pod.ImageReady, &pod.ProcessingStatus,
		&audioURL, &imageURL, &pod.DurationSeconds, &sourcesJSON, &parentID,
		&settingsJSON, &embeddingJSON, &pod.CreatedAt, &pod.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Pod{}, fmt.Errorf("pod %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Pod{}, fmt.Errorf("scan pod: %w", err)
	}

	if err := json.Unmarshal(sourcesJSON, &pod.Sources); err != nil {
		return models.Pod{}, fmt.Errorf("unmarshal sources: %w", err)
	}
	if err := json.Unmarshal(settingsJSON, &pod.Settings); err != nil {
		return models.Pod{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &pod.Embedding); err != nil {
			return models.Pod{}, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	pod.AudioURL = textPtr(audioURL)
	pod.ImageURL = textPtr(imageURL)
	pod.ParentPodID = textPtr(parentID)
	return pod, nil
}

// SetPodAudio records the audio worker's output: URL, duration estimate, and
// the audio readiness flag. The processing status flips to completed only
// when the image is already ready, in the same statement, so there is no
// window where both flags are true but the status lags a second writer.
func (s *Store) SetPodAudio(ctx context.Context, id, audioURL string, durationSeconds float64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pods
		SET audio_url = $2,
		    duration_seconds = $3,
		    audio_ready = TRUE,
		    processing_status = CASE WHEN image_ready THEN $4 ELSE processing_status END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, audioURL, durationSeconds, models.ProcessingCompleted)
	if err != nil {
		return fmt.Errorf("set pod audio: %w", err)
	}
	s.notifyPod(ctx, id)
	return nil
}

// SetPodCover records the cover-art worker's output and the image readiness
// flag, flipping processing status to completed when audio is already ready.
func (s *Store) SetPodCover(ctx context.Context, id, imageURL string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pods
		SET image_url = $2,
		    image_ready = TRUE,
		    processing_status = CASE WHEN audio_ready THEN $3 ELSE processing_status END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, imageURL, models.ProcessingCompleted)
	if err != nil {
		return fmt.Errorf("set pod cover: %w", err)
	}
	s.notifyPod(ctx, id)
	return nil
}

// SetPodEmbedding stores the semantic embedding. Embeddings do not gate the
// viewer-facing processing status.
func (s *Store) SetPodEmbedding(ctx context.Context, id string, embedding []float32) error {
	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE pods SET embedding = $2, updated_at = NOW() WHERE id = $1
	`, id, embeddingJSON)
	if err != nil {
		return fmt.Errorf("set pod embedding: %w", err)
	}
	s.notifyPod(ctx, id)
	return nil
}

// MarkPodProcessingFailed writes the explicit failed marker when a fan-out
// worker exhausts its retries. Completed pods are left alone.
func (s *Store) MarkPodProcessingFailed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pods SET processing_status = $2, updated_at = NOW()
		WHERE id = $1 AND processing_status <> $3
	`, id, models.ProcessingFailed, models.ProcessingCompleted)
	if err != nil {
		return fmt.Errorf("mark pod processing failed: %w", err)
	}
	s.notifyPod(ctx, id)
	return nil
}

// MarkPodProcessing flips the viewer-facing status to processing once the
// fan-out workers have been dispatched.
func (s *Store) MarkPodProcessing(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pods SET processing_status = $2, updated_at = NOW()
		WHERE id = $1 AND processing_status = $3
	`, id, models.ProcessingInProgress, models.ProcessingPending)
	if err != nil {
		return fmt.Errorf("mark pod processing: %w", err)
	}
	s.notifyPod(ctx, id)
	return nil
}

// notifyPod re-reads the row and hands the authoritative state to the change
// channel. Notification failures never fail the mutation.
func (s *Store) notifyPod(ctx context.Context, id string) {
	if s.notifier == nil {
		return
	}
	pod, err := s.GetPod(ctx, id)
	if err != nil {
		slog.Warn("skip pod notification", "pod_id", id, "error", err)
		return
	}
	if err := s.notifier.PublishPod(ctx, pod); err != nil {
		slog.Warn("publish pod update", "pod_id", id, "error", err)
	}
}
