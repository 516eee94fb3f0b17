package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/speech"
)

// AudioStore is the pod persistence the audio worker needs: a read plus its
// own disjoint column set.
type AudioStore interface {
	GetPod(ctx context.Context, id string) (models.Pod, error)
	SetPodAudio(ctx context.Context, id, audioURL string, durationSeconds float64) error
}

// AudioHandler renders a pod's narration and records the audio URL, the
// duration estimate, and the audio readiness flag. It never touches the
// image columns.
type AudioHandler struct {
	store  AudioStore
	synth  *speech.Synthesizer
	logger *slog.Logger
}

// NewAudioHandler builds the audio fan-out worker.
func NewAudioHandler(store AudioStore, synth *speech.Synthesizer, logger *slog.Logger) *AudioHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioHandler{store: store, synth: synth, logger: logger}
}

// Handle processes one pod:audio task. The task carries only identifiers;
// everything else is re-read from the pod, so a duplicate delivery converges
// on the same end state.
func (h *AudioHandler) Handle(ctx context.Context, task queue.Task) error {
	if task.PodID == "" {
		return errors.New("pod:audio task missing pod_id")
	}

	pod, err := h.store.GetPod(ctx, task.PodID)
	if err != nil {
		return fmt.Errorf("load pod: %w", err)
	}
	if pod.AudioReady {
		h.logger.Info("audio already rendered, skipping", "pod_id", pod.ID, "trace_id", task.TraceID)
		return nil
	}

	result, err := h.synth.Render(ctx, speech.RenderRequest{
		UserID:      pod.UserID,
		PodID:       pod.ID,
		Text:        pod.ScriptPlain,
		VoiceGender: pod.Settings.VoiceGender,
		VoiceStyle:  pod.Settings.VoiceStyle,
		Pace:        pod.Settings.Pace,
	})
	if err != nil {
		return err
	}

	if err := h.store.SetPodAudio(ctx, pod.ID, result.URL, result.DurationSeconds); err != nil {
		return fmt.Errorf("record audio: %w", err)
	}
	h.logger.Info("audio ready", "pod_id", pod.ID, "duration_s", result.DurationSeconds, "trace_id", task.TraceID)
	return nil
}
