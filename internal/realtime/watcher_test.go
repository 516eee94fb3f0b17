package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"podforge/internal/models"
)

// memPodReader serves pod snapshots from memory; tests mutate the row to
// model concurrent worker writes.
type memPodReader struct {
	mu  sync.Mutex
	pod models.Pod
}

func (m *memPodReader) GetPod(_ context.Context, id string) (models.Pod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.pod.ID {
		return models.Pod{}, errors.New("not found")
	}
	return m.pod, nil
}

func (m *memPodReader) set(pod models.Pod) {
	m.mu.Lock()
	m.pod = pod
	m.mu.Unlock()
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestWatcher_TerminalShortCircuit(t *testing.T) {
	reader := &memPodReader{pod: models.Pod{
		ID:               "pod-1",
		AudioReady:       true,
		ImageReady:       true,
		ProcessingStatus: models.ProcessingCompleted,
	}}
	watcher := NewWatcher(newTestRedis(t), reader, time.Second, nil)

	updates, err := watcher.Watch(context.Background(), "pod-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	select {
	case update, ok := <-updates:
		if !ok {
			t.Fatal("expected one snapshot before close")
		}
		if !update.Completed || !update.AudioReady || !update.ImageReady {
			t.Fatalf("unexpected snapshot: %+v", update)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("snapshot not delivered immediately")
	}

	if _, ok := <-updates; ok {
		t.Fatal("channel must close after the terminal snapshot")
	}

	// A terminal watch never occupies the in-flight slot.
	if _, err := watcher.Watch(context.Background(), "pod-1"); err != nil {
		t.Fatalf("second terminal watch: %v", err)
	}
}

func TestWatcher_DuplicateSubscribeGuard(t *testing.T) {
	reader := &memPodReader{pod: models.Pod{
		ID:               "pod-1",
		ProcessingStatus: models.ProcessingInProgress,
	}}
	watcher := NewWatcher(newTestRedis(t), reader, 200*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := watcher.Watch(ctx, "pod-1"); err != nil {
		t.Fatalf("first watch: %v", err)
	}
	if _, err := watcher.Watch(ctx, "pod-1"); !errors.Is(err, ErrAlreadyWatching) {
		t.Fatalf("expected ErrAlreadyWatching, got %v", err)
	}
}

func TestWatcher_CompletedEventRefetchesAndCloses(t *testing.T) {
	reader := &memPodReader{pod: models.Pod{
		ID:               "pod-1",
		ProcessingStatus: models.ProcessingInProgress,
	}}
	client := newTestRedis(t)
	watcher := NewWatcher(client, reader, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := watcher.Watch(ctx, "pod-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	// Baseline is emitted only after the subscription is live, so receiving
	// it makes publishing safe.
	baseline := <-updates
	if baseline.Completed {
		t.Fatalf("baseline must be non-terminal: %+v", baseline)
	}

	audioURL := "local://pods/u/pod-1/audio.wav"
	completed := models.Pod{
		ID:               "pod-1",
		AudioReady:       true,
		ImageReady:       true,
		ProcessingStatus: models.ProcessingCompleted,
		AudioURL:         &audioURL,
	}
	reader.set(completed)

	// The event payload carries a stale row on purpose: the watcher must
	// refetch the authoritative row before emitting the terminal update.
	stale := completed
	stale.AudioURL = nil
	if err := NewPublisher(client).PublishPod(ctx, stale); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case update, ok := <-updates:
		if !ok {
			t.Fatal("channel closed before the terminal update")
		}
		if !update.Completed {
			t.Fatalf("expected terminal update, got %+v", update)
		}
		if update.Pod.AudioURL == nil || *update.Pod.AudioURL != audioURL {
			t.Fatal("terminal update must come from a fresh read, not the event payload")
		}
	case <-time.After(4 * time.Second):
		t.Fatal("terminal update not delivered")
	}

	if _, ok := <-updates; ok {
		t.Fatal("channel must close after completion")
	}
}

func TestWatcher_IntermediateEventsStreamThrough(t *testing.T) {
	reader := &memPodReader{pod: models.Pod{
		ID:               "pod-1",
		ProcessingStatus: models.ProcessingInProgress,
	}}
	client := newTestRedis(t)
	watcher := NewWatcher(client, reader, 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	updates, err := watcher.Watch(ctx, "pod-1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	<-updates // baseline

	partial := models.Pod{
		ID:               "pod-1",
		AudioReady:       true,
		ProcessingStatus: models.ProcessingInProgress,
	}
	if err := NewPublisher(client).PublishPod(ctx, partial); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case update := <-updates:
		if !update.AudioReady || update.ImageReady || update.Completed {
			t.Fatalf("unexpected intermediate update: %+v", update)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("intermediate update not delivered")
	}
	cancel()
}
