package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueue(client, Options{VisibilityTimeout: time.Minute}), mr
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := NewTask(TaskPodAudio)
	task.PodID = "pod-1"
	task.TraceID = "trace-1"
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	depth, err := q.ReadyDepth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d err=%v", depth, err)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if got.ID != task.ID || got.Type != TaskPodAudio || got.PodID != "pod-1" {
		t.Fatalf("unexpected task: %+v", got)
	}

	// Leased, so not available again.
	if _, ok, _ := q.DequeueWithLease(ctx); ok {
		t.Fatal("leased task must not be dequeued twice")
	}

	if err := q.Ack(ctx, got.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if depth, _ := q.ReadyDepth(ctx); depth != 0 {
		t.Fatalf("expected empty queue after ack, got %d", depth)
	}
}

func TestQueue_RequeueExpired(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := NewTask(TaskPodCover)
	if err := q.Enqueue(ctx, task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok, err := q.DequeueWithLease(ctx); err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	// Before the lease deadline nothing is reclaimed.
	reclaimed, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil || len(reclaimed) != 0 {
		t.Fatalf("premature reclaim: %v err=%v", reclaimed, err)
	}

	// Past the deadline the task returns to the ready queue.
	reclaimed, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil || len(reclaimed) != 1 {
		t.Fatalf("expected one reclaimed task, got %v err=%v", reclaimed, err)
	}

	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok || got.ID != task.ID {
		t.Fatalf("reclaimed task not dequeuable: ok=%v err=%v", ok, err)
	}
}

func TestQueue_ScheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := NewTask(TaskPodEmbed)
	task.Attempts = 1
	runAt := time.Now().Add(time.Minute)
	if err := q.Schedule(ctx, task, runAt); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// Not due yet.
	if n, _ := q.PromoteScheduled(ctx, time.Now(), 10); n != 0 {
		t.Fatalf("promoted %d tasks before due time", n)
	}
	if _, ok, _ := q.DequeueWithLease(ctx); ok {
		t.Fatal("scheduled task leaked into ready queue")
	}

	if n, err := q.PromoteScheduled(ctx, runAt.Add(time.Second), 10); err != nil || n != 1 {
		t.Fatalf("expected one promotion, got %d err=%v", n, err)
	}
	got, ok, err := q.DequeueWithLease(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue promoted: ok=%v err=%v", ok, err)
	}
	if got.Attempts != 1 {
		t.Fatalf("attempt count lost in round trip: %+v", got)
	}
}

func TestQueue_DLQ(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	task := NewTask(TaskDraftClassify)
	task.DraftID = "draft-1"
	task.Attempts = 3
	if err := q.DLQPush(ctx, task); err != nil {
		t.Fatalf("dlq push: %v", err)
	}

	items, err := q.DLQPeek(ctx, 10)
	if err != nil {
		t.Fatalf("dlq peek: %v", err)
	}
	if len(items) != 1 || items[0].DraftID != "draft-1" || items[0].Attempts != 3 {
		t.Fatalf("dlq entry lost detail: %+v", items)
	}
}
