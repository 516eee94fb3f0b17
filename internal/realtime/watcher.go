package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"podforge/internal/models"
)

// ErrAlreadyWatching is returned when Watch is called while a subscription
// is still in flight on the same watcher.
var ErrAlreadyWatching = errors.New("watch already in flight")

// PodReader is the authoritative read used for the initial snapshot and the
// terminal refetch.
type PodReader interface {
	GetPod(ctx context.Context, id string) (models.Pod, error)
}

// Update is one observed readiness state. The two readiness booleans are
// recomputed independently on every event so a client can show intermediate
// "audio ready, image still rendering" states.
type Update struct {
	Pod        models.Pod `json:"pod"`
	AudioReady bool       `json:"audio_ready"`
	ImageReady bool       `json:"image_ready"`
	Completed  bool       `json:"completed"`
}

// Watcher mirrors the pod readiness state machine for one subscribed client.
type Watcher struct {
	client      *redis.Client
	store       PodReader
	settleDelay time.Duration
	logger      *slog.Logger
	inFlight    atomic.Bool
}

// NewWatcher builds a watcher over an existing Redis client.
func NewWatcher(client *redis.Client, store PodReader, settleDelay time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		client:      client,
		store:       store,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// Watch streams readiness updates for one pod until it completes or ctx is
// cancelled. When the pod is already terminal no subscription is opened: the
// channel delivers one snapshot and closes. Event ordering is advisory only;
// the persisted row is authoritative, so a completed event arriving before
// any intermediate event is handled the same way as a full sequence.
func (w *Watcher) Watch(ctx context.Context, podID string) (<-chan Update, error) {
	pod, err := w.store.GetPod(ctx, podID)
	if err != nil {
		return nil, err
	}

	if pod.ProcessingStatus == models.ProcessingCompleted {
		out := make(chan Update, 1)
		out <- toUpdate(pod)
		close(out)
		return out, nil
	}

	if !w.inFlight.CompareAndSwap(false, true) {
		return nil, ErrAlreadyWatching
	}

	out := make(chan Update, 8)
	go w.run(ctx, podID, pod, out)
	return out, nil
}

func (w *Watcher) run(ctx context.Context, podID string, snapshot models.Pod, out chan<- Update) {
	defer w.inFlight.Store(false)
	defer close(out)

	// Settle before subscribing so the transport session is authenticated
	// before the filter is registered.
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.settleDelay):
	}

	sub := w.client.Subscribe(ctx, ChannelFor(podID))
	defer sub.Close()

	// Baseline after subscribing: anything that changed during the settling
	// window is picked up from the authoritative row, not from missed events.
	if pod, err := w.store.GetPod(ctx, podID); err == nil {
		snapshot = pod
	}
	if !emit(ctx, out, toUpdate(snapshot)) {
		return
	}
	if snapshot.ProcessingStatus == models.ProcessingCompleted {
		return
	}

	events := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			var pod models.Pod
			if err := json.Unmarshal([]byte(msg.Payload), &pod); err != nil {
				w.logger.Warn("drop malformed pod event", "pod_id", podID, "error", err)
				continue
			}

			if pod.ProcessingStatus == models.ProcessingCompleted {
				// Some aggregated fields are only computed at read time, so a
				// terminal event triggers a full refetch.
				if fresh, err := w.store.GetPod(ctx, podID); err == nil {
					pod = fresh
				} else {
					w.logger.Warn("terminal refetch failed, using event payload", "pod_id", podID, "error", err)
				}
				emit(ctx, out, toUpdate(pod))
				return
			}

			if !emit(ctx, out, toUpdate(pod)) {
				return
			}
		}
	}
}

func toUpdate(pod models.Pod) Update {
	return Update{
		Pod:        pod,
		AudioReady: pod.AudioReady,
		ImageReady: pod.ImageReady,
		Completed:  pod.ProcessingStatus == models.ProcessingCompleted,
	}
}

func emit(ctx context.Context, out chan<- Update, update Update) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- update:
		return true
	}
}
