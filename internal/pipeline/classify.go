package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"podforge/internal/gateway"
	"podforge/internal/models"
)

// DraftStore is the staging-record persistence consumed by the gate.
type DraftStore interface {
	GetDraft(ctx context.Context, id string) (models.Draft, error)
	MarkDraftRejected(ctx context.Context, id, contentType, reason string) error
	MarkDraftAnalyzing(ctx context.Context, id, contentType string) error
}

// Classifier is the context-classification gate: it decides whether a
// location-triggered intent is admissible content before any creation job
// exists. Rejected drafts never reach the generation pipeline.
type Classifier struct {
	gen    gateway.VisionGenerator
	drafts DraftStore
	logger *slog.Logger
}

// NewClassifier builds the gate.
func NewClassifier(gen gateway.VisionGenerator, drafts DraftStore, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{gen: gen, drafts: drafts, logger: logger}
}

// Classify runs the gate for one draft and writes the verdict back onto it.
func (c *Classifier) Classify(ctx context.Context, draftID string) (models.Decision, error) {
	draft, err := c.drafts.GetDraft(ctx, draftID)
	if err != nil {
		return models.Decision{}, fmt.Errorf("load draft: %w", err)
	}
	logger := c.logger.With("draft_id", draft.ID, "trace_id", draft.TraceID)

	raw, err := c.gen.GenerateVision(ctx, classifyPrompt(draft), draft.SceneImage, true)
	if err != nil {
		return models.Decision{}, fmt.Errorf("classification call: %w", err)
	}

	decision, err := DecodeDecision(raw)
	if err != nil {
		return models.Decision{}, fmt.Errorf("classification response: %w", err)
	}

	switch decision.Verdict {
	case models.VerdictRejected:
		if err := c.drafts.MarkDraftRejected(ctx, draft.ID, decision.ContentType, decision.Reason); err != nil {
			return models.Decision{}, fmt.Errorf("record rejection: %w", err)
		}
		logger.Info("draft rejected", "reason", decision.Reason)
	case models.VerdictApproved:
		if err := c.drafts.MarkDraftAnalyzing(ctx, draft.ID, decision.ContentType); err != nil {
			return models.Decision{}, fmt.Errorf("record approval: %w", err)
		}
		logger.Info("draft approved for generation", "content_type", decision.ContentType)
	}
	return decision, nil
}

func classifyPrompt(draft models.Draft) string {
	var b strings.Builder
	b.WriteString("You are the admissibility gate for location-triggered audio content.\n")
	b.WriteString("Decide whether the user's intent, in this physical context, is worth producing as a factual audio piece.\n\n")
	fmt.Fprintf(&b, "User intent: %q\n", draft.IntentText)
	fmt.Fprintf(&b, "Place: %s\n", draft.PlaceID)
	if len(draft.Weather) > 0 {
		fmt.Fprintf(&b, "Weather snapshot: %s\n", draft.Weather)
	}
	b.WriteString(`
Reject test strings, spam, and intents with no factual substance for this location.
Respond with a single JSON object:
{"verdict": "approved" | "rejected", "content_type": "...", "reason": "..."}`)
	return b.String()
}
