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

	"podforge/internal/models"
)

// CreateDraftParams collects inputs for a location-triggered staging record.
type CreateDraftParams struct {
	UserID     string
	IntentText string
	PlaceID    string
	Weather    json.RawMessage
	SceneImage []byte
	TraceID    string
}

// CreateDraft inserts a draft in scanning status, ahead of classification.
func (s *Store) CreateDraft(ctx context.Context, p CreateDraftParams) (models.Draft, error) {
	if p.TraceID == "" {
		p.TraceID = uuid.New().String()
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO drafts (id, user_id, intent_text, place_id, weather, scene_image, status, trace_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, p.UserID, p.IntentText, p.PlaceID, p.Weather, p.SceneImage, models.DraftStatusScanning, p.TraceID, now)
	if err != nil {
		return models.Draft{}, fmt.Errorf("insert draft: %w", err)
	}

	return models.Draft{
		ID:         id,
		UserID:     p.UserID,
		IntentText: p.IntentText,
		PlaceID:    p.PlaceID,
		Weather:    p.Weather,
		SceneImage: p.SceneImage,
		Status:     models.DraftStatusScanning,
		TraceID:    p.TraceID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetDraft fetches a draft by id.
func (s *Store) GetDraft(ctx context.Context, id string) (models.Draft, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, intent_text, place_id, weather, scene_image, status, content_type, rejection_reason, trace_id, created_at, updated_at
		FROM drafts WHERE id = $1
	`, id)

	var draft models.Draft
	var contentType, reason pgtype.Text
	var weather []byte

	err := row.Scan(&draft.ID, &draft.UserID, &draft.IntentText, &draft.PlaceID, &weather,
		&draft.SceneImage, &draft.Status, &contentType, &reason, &draft.TraceID,
		&draft.CreatedAt, &draft.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Draft{}, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Draft{}, fmt.Errorf("scan draft: %w", err)
	}

	draft.Weather = weather
	draft.ContentType = textPtr(contentType)
	draft.RejectionReason = textPtr(reason)
	return draft, nil
}

// MarkDraftRejected records the gate's rejection verdict and reason.
func (s *Store) MarkDraftRejected(ctx context.Context, id, contentType, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drafts
		SET status = $2, content_type = NULLIF($3, ''), rejection_reason = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.DraftStatusRejected, contentType, reason)
	if err != nil {
		return fmt.Errorf("mark draft rejected: %w", err)
	}
	return nil
}

// MarkDraftAnalyzing approves the draft for generation, clearing any prior
// rejection reason.
func (s *Store) MarkDraftAnalyzing(ctx context.Context, id, contentType string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE drafts
		SET status = $2, content_type = NULLIF($3, ''), rejection_reason = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.DraftStatusAnalyzing, contentType)
	if err != nil {
		return fmt.Errorf("mark draft analyzing: %w", err)
	}
	return nil
}
