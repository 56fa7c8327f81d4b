package users

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/middleware"
	"github.com/aura-webinar/collab/internal/models"
	"github.com/aura-webinar/collab/pkg/response"
)

var (
	youtubeChannelPattern  = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.be)/.+`)
	facebookProfilePattern = regexp.MustCompile(`^(https?://)?(www\.|m\.)?(facebook\.com|fb\.com)/.+`)
)

// Store is the directory plus profile writes.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	Upsert(ctx context.Context, u *models.User) error
}

// ProfileRequest is the body for PUT /users/me.
type ProfileRequest struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	YouTube  string `json:"youtube"`
	Facebook string `json:"facebook"`
}

// Handler handles user profile endpoints.
type Handler struct {
	store Store
}

// NewHandler creates a user handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// GetByID handles GET /users/:userId.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	u, err := h.store.GetByID(c.Request.Context(), id)
	if errors.Is(err, collabs.ErrUserNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		response.Internal(c, "failed to load user")
		return
	}
	response.OK(c, gin.H{"user": u})
}

// UpdateMe handles PUT /users/me. The profile is created on first call with
// the token's username.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req ProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ctx := c.Request.Context()

	u, err := h.store.GetByID(ctx, userID)
	if errors.Is(err, collabs.ErrUserNotFound) {
		u = &models.User{ID: userID, Username: c.GetString(middleware.ContextUsername)}
	} else if err != nil {
		response.Internal(c, "failed to load user")
		return
	}
	if v := strings.TrimSpace(req.Username); v != "" {
		u.Username = v
	}
	if v := strings.TrimSpace(req.Avatar); v != "" {
		u.Avatar = v
	}
	if v := strings.TrimSpace(req.YouTube); v != "" {
		if !youtubeChannelPattern.MatchString(v) {
			response.BadRequest(c, "invalid youtube link")
			return
		}
		u.YouTube = v
	}
	if v := strings.TrimSpace(req.Facebook); v != "" {
		if !facebookProfilePattern.MatchString(v) {
			response.BadRequest(c, "invalid facebook link")
			return
		}
		u.Facebook = v
	}
	if u.Username == "" {
		response.BadRequest(c, "username is required")
		return
	}
	if err := h.store.Upsert(ctx, u); err != nil {
		response.Internal(c, "failed to save user")
		return
	}
	response.OK(c, gin.H{"user": u})
}
