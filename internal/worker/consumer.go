package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/pkg/queue"
)

const (
	dequeueTimeout = 2 * time.Second
	errorBackoff   = time.Second
)

// Consumer runs reconcile jobs queued by API servers whose scheduler is not
// embedded.
type Consumer struct {
	queue      *queue.Queue
	reconciler *Reconciler
	logger     *zap.Logger
	done       chan struct{}
}

// NewConsumer creates a job consumer for r.
func NewConsumer(q *queue.Queue, r *Reconciler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{queue: q, reconciler: r, logger: logger, done: make(chan struct{})}
}

// Run processes jobs until ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	defer close(c.done)
	c.logger.Info("job consumer started", zap.String("queue", queue.QueueReconcile))
	for ctx.Err() == nil {
		job, err := c.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("dequeue failed", zap.Error(err))
			_ = sleepCtx(ctx, errorBackoff)
			continue
		}
		if job == nil {
			continue
		}
		c.Handle(ctx, job)
	}
	c.logger.Info("job consumer stopped")
}

// Wait blocks until Run returns.
func (c *Consumer) Wait() {
	<-c.done
}

// Handle runs one job, re-queueing it when it fails for a reason that may clear up.
func (c *Consumer) Handle(ctx context.Context, job *queue.Job) {
	log := c.logger.With(zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
	err := c.run(ctx, job)
	switch {
	case err == nil:
		log.Debug("job done")
	case errors.Is(err, collabs.ErrNotFound):
		log.Info("job dropped, collab gone")
	case errors.Is(err, errBadJob):
		log.Warn("job dropped", zap.Error(err))
	default:
		log.Warn("job failed", zap.Error(err))
		if err := c.queue.Retry(ctx, job); err != nil {
			log.Error("requeue job", zap.Error(err))
		}
	}
}

var errBadJob = errors.New("malformed job")

func (c *Consumer) run(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReconcilePass:
		_, err := c.reconciler.RunPass(ctx)
		if errors.Is(err, ErrPassRunning) {
			return nil
		}
		return err
	case queue.JobTypeReconcileCollab:
		id, err := job.CollabID()
		if err != nil {
			return errors.Join(errBadJob, err)
		}
		_, err = c.reconciler.ReconcileOne(ctx, id)
		return err
	}
	return errors.Join(errBadJob, errors.New("unknown job type "+string(job.Type)))
}
