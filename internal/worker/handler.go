package worker

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/collab/pkg/queue"
	"github.com/aura-webinar/collab/pkg/response"
)

// Handler exposes manual control of the reconciler.
type Handler struct {
	reconciler *Reconciler
	queue      *queue.Queue
	ctx        context.Context
	logger     *zap.Logger
}

// NewHandler creates an admin handler. Work it starts runs under ctx, so it
// outlives the triggering request. With a non-nil q, work is queued for the
// standalone worker instead of run in this process.
func NewHandler(ctx context.Context, r *Reconciler, q *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reconciler: r, queue: q, ctx: ctx, logger: logger}
}

// Trigger handles POST /admin/reconcile[?collab_id=] (admin only).
func (h *Handler) Trigger(c *gin.Context) {
	var collabID uuid.UUID
	if raw := c.Query("collab_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid collab_id")
			return
		}
		collabID = id
	}

	if h.queue != nil {
		var (
			jobID string
			err   error
		)
		if collabID != uuid.Nil {
			jobID, err = h.queue.EnqueueCollab(c.Request.Context(), collabID)
		} else {
			jobID, err = h.queue.EnqueuePass(c.Request.Context())
		}
		if err != nil {
			_ = c.Error(err)
			response.Fail(c, http.StatusServiceUnavailable, "queue_unavailable", "could not queue reconciliation")
			return
		}
		response.Accepted(c, gin.H{"started": false, "queued": true, "job_id": jobID})
		return
	}

	if collabID != uuid.Nil {
		go func() {
			if _, err := h.reconciler.ReconcileOne(h.ctx, collabID); err != nil {
				h.logger.Warn("manual reconcile failed", zap.String("collab_id", collabID.String()), zap.Error(err))
			}
		}()
		response.Accepted(c, gin.H{"started": true})
		return
	}
	started := h.reconciler.Trigger(h.ctx)
	response.Accepted(c, gin.H{"started": started})
}
