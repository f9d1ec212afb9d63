// Package queue is the durable work queue handing accepted requests
// from ingress to the worker. Built on the same Redis instance already
// wired for rate limiting and idempotency, per spec.md §5's "one
// relational database and one key-value store" constraint — no
// dedicated message-broker client appears in any pack go.mod.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const listKey = "mxrelay:queue:process-email"

// Job is a unit of work handed to the worker.
type Job struct {
	MessageID      string                 `json:"message_id"`
	EmailID        string                 `json:"email_id"`
	Handle         string                 `json:"handle"`
	Request        map[string]interface{} `json:"request"`
	AttachmentsDir string                 `json:"attachments_dir,omitempty"`
	TaskID         string                 `json:"task_id,omitempty"`
	EnqueuedAt     time.Time              `json:"enqueued_at"`
}

// Queue pushes and pops Jobs against a Redis list.
type Queue struct {
	rdb *redis.Client
}

// New wraps an established Redis client.
func New(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Enqueue pushes job onto the tail of the work queue.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	if err := q.rdb.LPush(ctx, listKey, payload).Err(); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next Job, returning (nil, false)
// on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, bool, error) {
	result, err := q.rdb.BRPop(ctx, timeout, listKey).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("queue: dequeue: %w", err)
	}
	if len(result) != 2 {
		return nil, false, fmt.Errorf("queue: unexpected BRPOP reply shape")
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, false, fmt.Errorf("queue: unmarshal job: %w", err)
	}
	return &job, true, nil
}

// Depth returns the approximate number of jobs currently queued, for
// the mxrelay_queue_depth gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, listKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
