package worker

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"podforge/internal/models"
	"podforge/internal/queue"
	"podforge/internal/store"
)

type fakeEmbedder struct {
	lastText string
	calls    int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	f.lastText = text
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeEmbedStore struct {
	pod    models.Pod
	vector []float32
	writes int
}

func (f *fakeEmbedStore) GetPod(_ context.Context, id string) (models.Pod, error) {
	if id != f.pod.ID {
		return models.Pod{}, store.ErrNotFound
	}
	return f.pod, nil
}

func (f *fakeEmbedStore) SetPodEmbedding(_ context.Context, _ string, embedding []float32) error {
	f.writes++
	f.vector = embedding
	f.pod.Embedding = embedding
	return nil
}

func TestEmbedHandler_ComputesAndRecords(t *testing.T) {
	st := &fakeEmbedStore{pod: models.Pod{
		ID:          "pod-1",
		Title:       "Tides",
		ScriptPlain: "Twice a day the water turns.",
	}}
	embedder := &fakeEmbedder{}
	handler := NewEmbedHandler(st, embedder, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodEmbed, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if st.writes != 1 || len(st.vector) != 3 {
		t.Fatalf("embedding not recorded: writes=%d vector=%v", st.writes, st.vector)
	}
	if !strings.HasPrefix(embedder.lastText, "Tides\n") {
		t.Fatalf("embedding input must lead with the title: %q", embedder.lastText)
	}
}

func TestEmbedHandler_TruncatesLongScripts(t *testing.T) {
	st := &fakeEmbedStore{pod: models.Pod{
		ID:          "pod-1",
		Title:       "Long",
		ScriptPlain: strings.Repeat("x", embedMaxChars*2),
	}}
	embedder := &fakeEmbedder{}
	handler := NewEmbedHandler(st, embedder, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodEmbed, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(embedder.lastText) != embedMaxChars {
		t.Fatalf("embedding input not bounded: %d", len(embedder.lastText))
	}
}

func TestEmbedHandler_TruncationKeepsRuneBoundaries(t *testing.T) {
	// "é" is two bytes; the three-byte "Ti\n" prefix puts every rune start
	// on an odd offset so the byte cap lands inside a rune.
	st := &fakeEmbedStore{pod: models.Pod{
		ID:          "pod-1",
		Title:       "Ti",
		ScriptPlain: strings.Repeat("é", embedMaxChars),
	}}
	embedder := &fakeEmbedder{}
	handler := NewEmbedHandler(st, embedder, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodEmbed, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(embedder.lastText) > embedMaxChars {
		t.Fatalf("embedding input not bounded: %d", len(embedder.lastText))
	}
	if !utf8.ValidString(embedder.lastText) {
		t.Fatal("truncation split a multi-byte rune")
	}
}

func TestEmbedHandler_SecondDeliveryIsNoOp(t *testing.T) {
	st := &fakeEmbedStore{pod: models.Pod{ID: "pod-1", Title: "t", ScriptPlain: "s"}}
	embedder := &fakeEmbedder{}
	handler := NewEmbedHandler(st, embedder, nil)

	task := queue.Task{ID: "t1", Type: queue.TaskPodEmbed, PodID: "pod-1"}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if embedder.calls != 1 || st.writes != 1 {
		t.Fatalf("duplicate delivery must converge: calls=%d writes=%d", embedder.calls, st.writes)
	}
}
