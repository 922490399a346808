package invitations

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
	"github.com/porteria/backend/pkg/utils"
)

// Handler handles invitation and invite-link HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an invitations handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// InviteRequest is the body for POST /organizations/:id/invitations.
type InviteRequest struct {
	Email  string    `json:"email" binding:"required"`
	RoleID uuid.UUID `json:"role_id" binding:"required"`
}

// CreateLinkRequest is the body for POST /organizations/:id/invite-links.
type CreateLinkRequest struct {
	RoleID           uuid.UUID  `json:"organization_role_id" binding:"required"`
	RequiresApproval bool       `json:"requires_approval"`
	ExpiresAt        *time.Time `json:"expires_at"`
}

func pathID(c *gin.Context, name, msg string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, msg)
		return uuid.Nil, false
	}
	return id, true
}

func caller(c *gin.Context) (uuid.UUID, string) {
	return c.MustGet(middleware.ContextUserID).(uuid.UUID), c.GetString(middleware.ContextUserEmail)
}

// Invite handles POST /organizations/:id/invitations.
func (h *Handler) Invite(c *gin.Context) {
	m := access.MembershipFrom(c)
	var body InviteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "email y role_id son obligatorios")
		return
	}
	inv, err := h.service.Invite(c.Request.Context(), m.Organization.ID, m.UserID, body.Email, body.RoleID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Invitación enviada", inv)
}

// List handles GET /organizations/:id/invitations?status=.
func (h *Handler) List(c *gin.Context) {
	m := access.MembershipFrom(c)
	page := utils.ParsePage(c.Query("page"), c.Query("limit"))
	list, err := h.service.List(c.Request.Context(), m.Organization.ID, models.InvitationStatus(c.Query("status")), page)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Invitaciones", list)
}

// Cancel handles DELETE /organizations/:id/invitations/:invId.
func (h *Handler) Cancel(c *gin.Context) {
	h.decide(c, "Invitación cancelada", h.service.Cancel)
}

// Approve handles POST /organizations/:id/invitations/:invId/approve.
func (h *Handler) Approve(c *gin.Context) {
	h.decide(c, "Solicitud aprobada", h.service.Approve)
}

// Reject handles POST /organizations/:id/invitations/:invId/reject.
func (h *Handler) Reject(c *gin.Context) {
	h.decide(c, "Solicitud rechazada", h.service.Reject)
}

func (h *Handler) decide(c *gin.Context, msg string, fn func(ctx context.Context, orgID, invID uuid.UUID) (*models.Invitation, error)) {
	m := access.MembershipFrom(c)
	invID, ok := pathID(c, "invId", "ID de invitación inválido")
	if !ok {
		return
	}
	inv, err := fn(c.Request.Context(), m.Organization.ID, invID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, msg, inv)
}

// Preview handles GET /invitations/:token.
func (h *Handler) Preview(c *gin.Context) {
	inv, err := h.service.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Invitación", inv)
}

// Accept handles POST /invitations/:token/accept.
func (h *Handler) Accept(c *gin.Context) {
	userID, email := caller(c)
	member, err := h.service.Accept(c.Request.Context(), c.Param("token"), userID, email)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Te uniste a la organización", member)
}

// CreateLink handles POST /organizations/:id/invite-links.
func (h *Handler) CreateLink(c *gin.Context) {
	m := access.MembershipFrom(c)
	var body CreateLinkRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "organization_role_id es obligatorio")
		return
	}
	link, err := h.service.CreateLink(c.Request.Context(), m.Organization.ID, m.UserID, LinkInput{
		RoleID:           body.RoleID,
		RequiresApproval: body.RequiresApproval,
		ExpiresAt:        body.ExpiresAt,
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Enlace de invitación creado", link)
}

// ListLinks handles GET /organizations/:id/invite-links.
func (h *Handler) ListLinks(c *gin.Context) {
	m := access.MembershipFrom(c)
	links, err := h.service.ListLinks(c.Request.Context(), m.Organization.ID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Enlaces de invitación", links)
}

// DeleteLink handles DELETE /organizations/:id/invite-links/:linkId.
func (h *Handler) DeleteLink(c *gin.Context) {
	m := access.MembershipFrom(c)
	linkID, ok := pathID(c, "linkId", "ID de enlace inválido")
	if !ok {
		return
	}
	if err := h.service.DeleteLink(c.Request.Context(), m.Organization.ID, linkID); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Enlace eliminado", nil)
}

// Join handles POST /invite-links/:token/join.
func (h *Handler) Join(c *gin.Context) {
	userID, email := caller(c)
	inv, err := h.service.Join(c.Request.Context(), c.Param("token"), userID, email)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	msg := "Invitación creada"
	if inv.Status == models.InvitationPendingApproval {
		msg = "Solicitud enviada; un administrador debe aprobarla"
	}
	response.Created(c, msg, inv)
}

// Register mounts the routes. api is the authenticated group and org the
// /organizations/:id group.
func (h *Handler) Register(api, org *gin.RouterGroup, guard *access.Guard) {
	admin := access.RequireRoute(guard, "/invitations", h.logger)

	inv := org.Group("/invitations", admin)
	inv.POST("", h.Invite)
	inv.GET("", h.List)
	inv.DELETE("/:invId", h.Cancel)
	inv.POST("/:invId/approve", h.Approve)
	inv.POST("/:invId/reject", h.Reject)

	links := org.Group("/invite-links", admin)
	links.POST("", h.CreateLink)
	links.GET("", h.ListLinks)
	links.DELETE("/:linkId", h.DeleteLink)

	api.GET("/invitations/:token", h.Preview)
	api.POST("/invitations/:token/accept", h.Accept)
	api.POST("/invite-links/:token/join", h.Join)
}
