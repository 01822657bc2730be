// Package tasks runs background jobs off Redis-backed priority queues:
// content processing, book OCR batches, and bookmark/repo syncs. Jobs are
// JSON envelopes; payloads never carry binary data.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue names, in dequeue priority order. Voice memos go high priority
// because the user is waiting; batch imports and syncs go low.
const (
	QueueHigh    = "recall:queue:high_priority"
	QueueDefault = "recall:queue:default"
	QueueLow     = "recall:queue:low_priority"
)

// deadLetterKey collects jobs that exhausted their retries.
const deadLetterKey = "recall:queue:dead"

// processingKey is the in-flight list for a queue. A job sits there from
// dequeue until ack, so a crashed worker's jobs can be requeued.
func processingKey(queue string) string { return queue + ":processing" }

// Task type names.
const (
	TaskProcessContent = "process_content"
	TaskProcessVoice   = "process_voice"
	TaskProcessBook    = "process_book"
	TaskSyncBookmarks  = "sync_bookmarks"
	TaskSyncRepo       = "sync_repo"
)

// Job is the queue envelope.
type Job struct {
	ID         string          `json:"id"`
	TaskType   string          `json:"task_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ContentPayload is the payload of the content-processing task types.
type ContentPayload struct {
	ContentUUID string `json:"content_uuid"`
}

// RepoPayload is the payload of repo-sync tasks.
type RepoPayload struct {
	URL string `json:"url"`
}

// QueueFor routes a task type to its priority queue.
func QueueFor(taskType string) string {
	switch taskType {
	case TaskProcessVoice:
		return QueueHigh
	case TaskProcessBook, TaskSyncBookmarks, TaskSyncRepo:
		return QueueLow
	default:
		return QueueDefault
	}
}

// Queues is the Redis-list queue set with late-acknowledgement semantics.
type Queues struct {
	rdb *redis.Client
}

// NewQueues wraps a connected Redis client.
func NewQueues(rdb *redis.Client) *Queues {
	return &Queues{rdb: rdb}
}

// Enqueue serializes a job onto its task type's queue and returns the job id.
func (q *Queues) Enqueue(ctx context.Context, taskType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	job := &Job{
		ID:         uuid.NewString(),
		TaskType:   taskType,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, QueueFor(taskType), job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *Queues) push(ctx context.Context, queue string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.rdb.RPush(ctx, queue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job, checking queues in priority
// order. The job is parked on the queue's processing list until Ack or
// Reject; a nil job means the timeout elapsed.
func (q *Queues) Dequeue(ctx context.Context, timeout time.Duration) (*Job, string, error) {
	res, err := q.rdb.BLPop(ctx, timeout, QueueHigh, QueueDefault, QueueLow).Result()
	if err == redis.Nil {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to dequeue: %w", err)
	}
	queue, data := res[0], res[1]

	if err := q.rdb.RPush(ctx, processingKey(queue), data).Err(); err != nil {
		return nil, "", fmt.Errorf("failed to park job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		q.rdb.LRem(ctx, processingKey(queue), 1, data)
		return nil, "", fmt.Errorf("malformed job envelope: %w", err)
	}
	return &job, queue, nil
}

// Ack removes a completed job from its processing list.
func (q *Queues) Ack(ctx context.Context, queue string, job *Job) error {
	return q.removeParked(ctx, queue, job)
}

// Retry returns a failed job to the tail of its queue with the attempt count
// bumped.
func (q *Queues) Retry(ctx context.Context, queue string, job *Job) error {
	if err := q.removeParked(ctx, queue, job); err != nil {
		return err
	}
	job.Attempts++
	return q.push(ctx, queue, job)
}

// Bury moves a job that exhausted its retries to the dead-letter list.
func (q *Queues) Bury(ctx context.Context, queue string, job *Job) error {
	if err := q.removeParked(ctx, queue, job); err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, deadLetterKey, data).Err()
}

func (q *Queues) removeParked(ctx context.Context, queue string, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, processingKey(queue), 1, string(data)).Err(); err != nil {
		return fmt.Errorf("failed to unpark job: %w", err)
	}
	return nil
}

// RequeueOrphans moves everything parked on processing lists back onto the
// queues. Run at startup: anything still parked belonged to a worker that
// died mid-job.
func (q *Queues) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for _, queue := range []string{QueueHigh, QueueDefault, QueueLow} {
		for {
			data, err := q.rdb.LPop(ctx, processingKey(queue)).Result()
			if err == redis.Nil {
				break
			}
			if err != nil {
				return moved, fmt.Errorf("failed to drain processing list: %w", err)
			}
			if err := q.rdb.RPush(ctx, queue, data).Err(); err != nil {
				return moved, fmt.Errorf("failed to requeue orphan: %w", err)
			}
			moved++
		}
	}
	return moved, nil
}

// Depths reports the current length of each priority queue.
func (q *Queues) Depths(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 3)
	for _, queue := range []string{QueueHigh, QueueDefault, QueueLow} {
		n, err := q.rdb.LLen(ctx, queue).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read queue depth: %w", err)
		}
		out[queue] = n
	}
	return out, nil
}

// SimpleQueue is the lightweight fire-and-forget list for tasks that need no
// retry or ack semantics.
type SimpleQueue struct {
	rdb *redis.Client
	key string
}

// NewSimpleQueue creates a plain list queue under the given key.
func NewSimpleQueue(rdb *redis.Client, key string) *SimpleQueue {
	return &SimpleQueue{rdb: rdb, key: key}
}

// Push appends a JSON-encoded value.
func (s *SimpleQueue) Push(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return s.rdb.RPush(ctx, s.key, data).Err()
}

// Pop removes the head without blocking. Returns false when empty.
func (s *SimpleQueue) Pop(ctx context.Context, dst any) (bool, error) {
	data, err := s.rdb.LPop(ctx, s.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(data), dst)
}

// BPop blocks up to timeout for the head. Returns false on timeout.
func (s *SimpleQueue) BPop(ctx context.Context, timeout time.Duration, dst any) (bool, error) {
	res, err := s.rdb.BLPop(ctx, timeout, s.key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(res[1]), dst)
}
