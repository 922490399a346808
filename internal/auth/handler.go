package auth

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
)

// ProfileStore is the subset of Repository used by Handler.
type ProfileStore interface {
	Upsert(ctx context.Context, p *models.Profile) error
	UpdateName(ctx context.Context, id uuid.UUID, fullName string) (*models.Profile, error)
}

// UpdateProfileRequest is the body for PUT /me.
type UpdateProfileRequest struct {
	FullName string `json:"full_name" binding:"required"`
}

// Handler serves the caller's profile.
type Handler struct {
	store  ProfileStore
	logger *zap.Logger
}

// NewHandler creates a profile handler.
func NewHandler(store ProfileStore, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Me handles GET /me. The profile is refreshed from the token claims on every call.
func (h *Handler) Me(c *gin.Context) {
	p := &models.Profile{
		ID:    c.MustGet(contextUserID).(uuid.UUID),
		Email: c.GetString(contextUserEmail),
	}
	if err := h.store.Upsert(c.Request.Context(), p); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Perfil", p)
}

// UpdateMe handles PUT /me.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "El nombre es obligatorio")
		return
	}
	name := strings.Join(strings.Fields(req.FullName), " ")
	if name == "" || utf8.RuneCountInString(name) > 120 {
		response.BadRequest(c, "El nombre debe tener entre 1 y 120 caracteres")
		return
	}
	p := &models.Profile{
		ID:    c.MustGet(contextUserID).(uuid.UUID),
		Email: c.GetString(contextUserEmail),
	}
	if err := h.store.Upsert(c.Request.Context(), p); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	updated, err := h.store.UpdateName(c.Request.Context(), p.ID, name)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Perfil actualizado", updated)
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("/me", h.Me)
	api.PUT("/me", h.UpdateMe)
}

// Must match middleware.ContextUserID and middleware.ContextUserEmail.
const (
	contextUserID    = "user_id"
	contextUserEmail = "user_email"
)
