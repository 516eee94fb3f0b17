package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"podforge/internal/gateway"
	"podforge/internal/models"
	"podforge/internal/queue"
)

// embedMaxChars bounds the text sent to the embedding model.
const embedMaxChars = 8000

// EmbedStore is the pod persistence the embedding worker needs.
type EmbedStore interface {
	GetPod(ctx context.Context, id string) (models.Pod, error)
	SetPodEmbedding(ctx context.Context, id string, embedding []float32) error
}

// EmbedHandler computes the pod's semantic embedding. Embeddings never gate
// the viewer-facing processing status.
type EmbedHandler struct {
	store    EmbedStore
	embedder gateway.Embedder
	logger   *slog.Logger
}

// NewEmbedHandler builds the embedding fan-out worker.
func NewEmbedHandler(store EmbedStore, embedder gateway.Embedder, logger *slog.Logger) *EmbedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedHandler{store: store, embedder: embedder, logger: logger}
}

// Handle processes one pod:embed task.
func (h *EmbedHandler) Handle(ctx context.Context, task queue.Task) error {
	if task.PodID == "" {
		return errors.New("pod:embed task missing pod_id")
	}

	pod, err := h.store.GetPod(ctx, task.PodID)
	if err != nil {
		return fmt.Errorf("load pod: %w", err)
	}
	if len(pod.Embedding) > 0 {
		h.logger.Info("embedding already computed, skipping", "pod_id", pod.ID, "trace_id", task.TraceID)
		return nil
	}

	text := pod.Title + "\n" + pod.ScriptPlain
	if len(text) > embedMaxChars {
		cut := embedMaxChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	vector, err := h.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed pod: %w", err)
	}

	if err := h.store.SetPodEmbedding(ctx, pod.ID, vector); err != nil {
		return fmt.Errorf("record embedding: %w", err)
	}
	h.logger.Info("embedding ready", "pod_id", pod.ID, "dims", len(vector), "trace_id", task.TraceID)
	return nil
}
