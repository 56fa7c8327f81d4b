package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueReconcile is the Redis list key for reconciliation jobs.
	QueueReconcile = "worker:reconcile"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:reconcile:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeReconcilePass   JobType = "reconcile_pass"
	JobTypeReconcileCollab JobType = "reconcile_collab"
)

// CollabPayload is the payload for single-collab reconcile jobs.
type CollabPayload struct {
	CollabID uuid.UUID `json:"collab_id"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// CollabID decodes the payload of a reconcile_collab job.
func (j *Job) CollabID() (uuid.UUID, error) {
	var p CollabPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return uuid.Nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.CollabID == uuid.Nil {
		return uuid.Nil, errors.New("payload has no collab_id")
	}
	return p.CollabID, nil
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueuePass asks a worker to run one reconciliation pass.
func (q *Queue) EnqueuePass(ctx context.Context) (string, error) {
	return q.enqueue(ctx, JobTypeReconcilePass, nil)
}

// EnqueueCollab asks a worker to reconcile one collab now.
func (q *Queue) EnqueueCollab(ctx context.Context, collabID uuid.UUID) (string, error) {
	body, err := json.Marshal(CollabPayload{CollabID: collabID})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return q.enqueue(ctx, JobTypeReconcileCollab, body)
}

func (q *Queue) enqueue(ctx context.Context, typ JobType, payload json.RawMessage) (string, error) {
	job := Job{
		ID:        uuid.New().String(),
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueReconcile, raw).Err(); err != nil {
		return "", fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(typ)))
	return job.ID, nil
}

// Dequeue waits up to timeout for a job. It returns a nil job when the wait
// times out or the entry is malformed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueReconcile).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueReconcile, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueReconcile).Result()
}
