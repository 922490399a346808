// Package notifications exposes the in-app notifications written by the worker.
package notifications

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
	"github.com/porteria/backend/pkg/utils"
)

// Reader is the read side of Repository used by Handler.
type Reader interface {
	List(ctx context.Context, userID uuid.UUID, unreadOnly bool, page utils.Page) ([]models.Notification, int, int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*models.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

// ListResponse is a page of notifications plus the unread count.
type ListResponse struct {
	utils.Paginated[models.Notification]
	Unread int `json:"unread"`
}

// Handler handles notification HTTP endpoints.
type Handler struct {
	store  Reader
	logger *zap.Logger
}

// NewHandler creates a notifications handler.
func NewHandler(store Reader, logger *zap.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// List handles GET /notifications?unread=true&page=&limit=.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	page := utils.ParsePage(c.Query("page"), c.Query("limit"))
	items, total, unread, err := h.store.List(c.Request.Context(), userID, unreadOnly, page)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Notificaciones", ListResponse{Paginated: utils.NewPaginated(items, total, page), Unread: unread})
}

// MarkRead handles PUT /notifications/:notificationId/read.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("notificationId"))
	if err != nil {
		response.BadRequest(c, "ID de notificación inválido")
		return
	}
	n, err := h.store.MarkRead(c.Request.Context(), userID, id)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Notificación leída", n)
}

// MarkAllRead handles POST /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	n, err := h.store.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Notificaciones leídas", gin.H{"updated": n})
}

// Register mounts the routes on an authenticated group.
func (h *Handler) Register(api *gin.RouterGroup) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/read-all", h.MarkAllRead)
	api.PUT("/notifications/:notificationId/read", h.MarkRead)
}
