package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task types handled by the worker loop. The set is fixed at design time.
const (
	TaskPodCreate     = "pod:create"
	TaskPodAudio      = "pod:audio"
	TaskPodCover      = "pod:cover"
	TaskPodEmbed      = "pod:embed"
	TaskDraftClassify = "draft:classify"
)

// Task is the minimal trigger payload carried through Redis. Workers re-read
// everything else from the persisted record, which keeps every handler
// idempotent and retriable.
type Task struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	JobID    string `json:"job_id,omitempty"`
	PodID    string `json:"pod_id,omitempty"`
	DraftID  string `json:"draft_id,omitempty"`
	TraceID  string `json:"trace_id"`
	Attempts int    `json:"attempts"`
}

// NewTask builds a task with a fresh identifier.
func NewTask(taskType string) Task {
	return Task{ID: uuid.New().String(), Type: taskType}
}

// RedisQueue coordinates ready, in-flight, and scheduled task queues in Redis.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	taskKeyPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// Options configure a queue client.
type Options struct {
	VisibilityTimeout time.Duration
	DLQName           string
}

// NewRedisQueue builds a queue around an existing Redis client.
func NewRedisQueue(client *redis.Client, opts Options) *RedisQueue {
	visibility := opts.VisibilityTimeout
	if visibility == 0 {
		visibility = 2 * time.Minute
	}
	dlq := opts.DLQName
	if dlq == "" {
		dlq = "queue:dlq"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "queue:ready",
		inflightKey:   "queue:inflight",
		scheduledKey:  "queue:scheduled",
		taskKeyPrefix: "queue:task:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

func (q *RedisQueue) taskKey(taskID string) string {
	return q.taskKeyPrefix + taskID
}

// Enqueue makes a task immediately available to workers.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.taskKey(task.ID), body, 0)
	pipe.RPush(ctx, q.readyKey, task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue task %s: %w", task.Type, err)
	}
	return nil
}

// Schedule defers a task until runAt, typically for retry backoff.
func (q *RedisQueue) Schedule(ctx context.Context, task Task, runAt time.Time) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.taskKey(task.ID), body, 0)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("schedule task %s: %w", task.Type, err)
	}
	return nil
}

// PromoteScheduled moves due scheduled tasks into the ready queue. It returns
// how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next ready task and places it in-flight with a
// visibility timeout. The boolean reports whether a task was available.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (Task, bool, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, err
	}
	taskID, ok := res.(string)
	if !ok {
		return Task{}, false, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	body, err := q.client.Get(ctx, q.taskKey(taskID)).Result()
	if err == redis.Nil {
		// Body lost; drop the lease so the orphan does not churn forever.
		_ = q.client.ZRem(ctx, q.inflightKey, taskID).Err()
		return Task{}, false, nil
	}
	if err != nil {
		return Task{}, false, fmt.Errorf("load task body: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(body), &task); err != nil {
		_ = q.client.ZRem(ctx, q.inflightKey, taskID).Err()
		return Task{}, false, fmt.Errorf("unmarshal task body: %w", err)
	}
	return task, true, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a task from in-flight tracking and deletes its body.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.taskKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the task IDs.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends an exhausted task to the dead-letter queue for operator
// inspection, keeping the serialized body alongside the ID.
func (q *RedisQueue) DLQPush(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return q.client.RPush(ctx, q.dlqKey, body).Err()
}

// DLQPeek reads the oldest dead-lettered tasks.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]Task, error) {
	rows, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(rows))
	for _, row := range rows {
		var task Task
		if err := json.Unmarshal([]byte(row), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// ReadyDepth returns the length of the ready queue.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local task = redis.call('LPOP', ready)
if task then
  redis.call('ZADD', inflight, ARGV[1], task)
  return task
end
return nil
`)
