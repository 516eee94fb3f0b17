package worker

import (
	"context"
	"testing"

	"podforge/internal/gateway"
	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/speech"
	"podforge/internal/store"
)

type echoTTS struct {
	calls int
}

func (e *echoTTS) Synthesize(_ context.Context, req gateway.SpeechRequest) ([]byte, error) {
	e.calls++
	return []byte(req.Text), nil
}

type memUploader struct {
	keys []string
}

func (m *memUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	m.keys = append(m.keys, key)
	return "mem://" + key, nil
}

type fakeAudioStore struct {
	pod      models.Pod
	audioURL string
	duration float64
	writes   int
}

func (f *fakeAudioStore) GetPod(_ context.Context, id string) (models.Pod, error) {
	if id != f.pod.ID {
		return models.Pod{}, store.ErrNotFound
	}
	return f.pod, nil
}

func (f *fakeAudioStore) SetPodAudio(_ context.Context, _, audioURL string, durationSeconds float64) error {
	f.writes++
	f.audioURL = audioURL
	f.duration = durationSeconds
	f.pod.AudioReady = true
	f.pod.AudioURL = &audioURL
	return nil
}

func TestAudioHandler_RendersAndRecords(t *testing.T) {
	st := &fakeAudioStore{pod: models.Pod{
		ID:          "pod-1",
		UserID:      "user-1",
		ScriptPlain: "The plain narration text.",
		Settings:    models.JobPayload{VoiceGender: "female", VoiceStyle: "calm", Pace: "slow"},
	}}
	tts := &echoTTS{}
	synth := speech.NewSynthesizer(tts, &memUploader{}, 8, 0, 8, nil)
	handler := NewAudioHandler(st, synth, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodAudio, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if st.writes != 1 {
		t.Fatalf("expected one audio write, got %d", st.writes)
	}
	if st.audioURL != "mem://pods/user-1/pod-1/audio.wav" {
		t.Fatalf("unexpected audio url: %q", st.audioURL)
	}
	if st.duration <= 0 {
		t.Fatalf("duration not recorded: %v", st.duration)
	}
}

func TestAudioHandler_SecondDeliveryIsNoOp(t *testing.T) {
	st := &fakeAudioStore{pod: models.Pod{
		ID:          "pod-1",
		UserID:      "user-1",
		ScriptPlain: "narration",
	}}
	tts := &echoTTS{}
	synth := speech.NewSynthesizer(tts, &memUploader{}, 8, 0, 8, nil)
	handler := NewAudioHandler(st, synth, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodAudio, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if st.writes != 1 {
		t.Fatalf("duplicate delivery must not rewrite audio, writes=%d", st.writes)
	}
	if tts.calls != 1 {
		t.Fatalf("duplicate delivery must not re-synthesize, calls=%d", tts.calls)
	}
}

func TestAudioHandler_MissingPodID(t *testing.T) {
	handler := NewAudioHandler(&fakeAudioStore{}, nil, nil)
	if err := handler.Handle(context.Background(), queue.Task{Type: queue.TaskPodAudio}); err == nil {
		t.Fatal("expected error for missing pod_id")
	}
}
