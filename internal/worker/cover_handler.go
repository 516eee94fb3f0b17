package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"

	"podforge/internal/gateway"
	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/storage"
)

const coverSize = 1024

// CoverStore is the pod persistence the cover worker needs.
type CoverStore interface {
	GetPod(ctx context.Context, id string) (models.Pod, error)
	SetPodCover(ctx context.Context, id, imageURL string) error
}

// CoverHandler generates the pod's cover art, normalizes it to a square
// JPEG, uploads it, and records the image URL and readiness flag.
type CoverHandler struct {
	store    CoverStore
	images   gateway.ImageGenerator
	uploader storage.Uploader
	logger   *slog.Logger
}

// NewCoverHandler builds the cover-art fan-out worker.
func NewCoverHandler(store CoverStore, images gateway.ImageGenerator, uploader storage.Uploader, logger *slog.Logger) *CoverHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoverHandler{store: store, images: images, uploader: uploader, logger: logger}
}

// Handle processes one pod:cover task.
func (h *CoverHandler) Handle(ctx context.Context, task queue.Task) error {
	if task.PodID == "" {
		return errors.New("pod:cover task missing pod_id")
	}

	pod, err := h.store.GetPod(ctx, task.PodID)
	if err != nil {
		return fmt.Errorf("load pod: %w", err)
	}
	if pod.ImageReady {
		h.logger.Info("cover already rendered, skipping", "pod_id", pod.ID, "trace_id", task.TraceID)
		return nil
	}

	raw, err := h.images.GenerateImage(ctx, coverPrompt(pod))
	if err != nil {
		return fmt.Errorf("generate cover: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode cover: %w", err)
	}
	img = imaging.Fill(img, coverSize, coverSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return fmt.Errorf("encode cover: %w", err)
	}

	key := fmt.Sprintf("pods/%s/%s/cover.jpg", pod.UserID, pod.ID)
	url, err := h.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return fmt.Errorf("upload cover: %w", err)
	}

	if err := h.store.SetPodCover(ctx, pod.ID, url); err != nil {
		return fmt.Errorf("record cover: %w", err)
	}
	h.logger.Info("cover ready", "pod_id", pod.ID, "trace_id", task.TraceID)
	return nil
}

func coverPrompt(pod models.Pod) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Podcast cover illustration for an episode titled %q.", pod.Title)
	if pod.Settings.Style != "" {
		fmt.Fprintf(&b, " Visual style: %s.", pod.Settings.Style)
	}
	b.WriteString(" Square composition, no text, no lettering.")
	return b.String()
}
