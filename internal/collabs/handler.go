package collabs

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/middleware"
	"github.com/aura-webinar/collab/internal/models"
	"github.com/aura-webinar/collab/pkg/response"
)

// CreateRequest is the body for POST /collabs.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required"`
	MaxPartners int    `json:"max_partners" binding:"required"`
	YouTubeLink string `json:"youtube_link" binding:"required"`
}

// JoinRequest is the body for POST /collabs/:id/match and /request-match.
type JoinRequest struct {
	Description string `json:"description"`
	YouTubeLink string `json:"youtube_link" binding:"required"`
}

// Handler handles collab HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a collab handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List handles GET /collabs?status=&type=.
func (h *Handler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), ListQuery{
		Status: models.CollabStatus(c.Query("status")),
		Type:   models.CollabType(c.Query("type")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"collabs": list})
}

// Featured handles GET /collabs/featured.
func (h *Handler) Featured(c *gin.Context) {
	list, err := h.svc.Featured(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"collabs": list})
}

// GetByID handles GET /collabs/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	v, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"collab": v})
}

// ListByUser handles GET /users/:userId/collabs.
func (h *Handler) ListByUser(c *gin.Context) {
	userID, ok := parseID(c, "userId", "invalid user id")
	if !ok {
		return
	}
	list, err := h.svc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"collabs": list})
}

// MyActive handles GET /collabs/my/active.
func (h *Handler) MyActive(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	v, err := h.svc.MyActive(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"has_active_collab": v != nil, "active_collab": v})
}

// Create handles POST /collabs.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	v, err := h.svc.Create(c.Request.Context(), userID, CreateInput{
		Title:       req.Title,
		Description: req.Description,
		Type:        models.CollabType(req.Type),
		MaxPartners: req.MaxPartners,
		Link:        req.YouTubeLink,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, gin.H{"collab": v})
}

// Match handles POST /collabs/:id/match.
func (h *Handler) Match(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	v, err := h.svc.DirectMatch(c.Request.Context(), id, userID, JoinInput{Link: req.YouTubeLink, Description: req.Description})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OKMessage(c, gin.H{"collab": v}, "matched")
}

// RequestMatch handles POST /collabs/:id/request-match.
func (h *Handler) RequestMatch(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	entry, err := h.svc.RequestJoin(c.Request.Context(), id, userID, JoinInput{Link: req.YouTubeLink, Description: req.Description})
	if err != nil {
		writeError(c, err)
		return
	}
	response.Created(c, gin.H{"entry": entry})
}

// WaitingList handles GET /collabs/:id/waiting-list.
func (h *Handler) WaitingList(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListWaiting(c.Request.Context(), id, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"waiting_list": list})
}

// AcceptWaiting handles POST /collabs/:id/accept-waiting/:waitingId.
func (h *Handler) AcceptWaiting(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	entryID, ok := parseID(c, "waitingId", "invalid waiting id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	v, err := h.svc.AcceptWaiting(c.Request.Context(), id, userID, entryID)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OKMessage(c, gin.H{"collab": v}, "partner added")
}

// RejectWaiting handles POST /collabs/:id/reject-waiting/:waitingId.
func (h *Handler) RejectWaiting(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	entryID, ok := parseID(c, "waitingId", "invalid waiting id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.RejectWaiting(c.Request.Context(), id, userID, entryID); err != nil {
		writeError(c, err)
		return
	}
	response.OKMessage(c, nil, "request rejected")
}

// RefreshStreamInfo handles PUT /collabs/:id/stream-info.
func (h *Handler) RefreshStreamInfo(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	v, err := h.svc.RefreshSignals(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, gin.H{"collab": v})
}

// Delete handles DELETE /collabs/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id", "invalid collab id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.Delete(c.Request.Context(), id, userID); err != nil {
		writeError(c, err)
		return
	}
	response.OKMessage(c, gin.H{"deleted_collab_id": id}, "collab deleted")
}

func parseID(c *gin.Context, param, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps a domain error to its HTTP status. Unknown errors are
// attached to the gin context for the request logger and reported as 500.
func writeError(c *gin.Context, err error) {
	var e *Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		response.Internal(c, "internal error")
		return
	}
	if e.Kind == KindUnavailable {
		_ = c.Error(err)
	}
	response.Fail(c, statusFor(e.Kind), e.Code, e.Message)
}

func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict, KindInvariant:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
