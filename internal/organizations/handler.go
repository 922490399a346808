package organizations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
	"github.com/porteria/backend/pkg/utils"
)

// Handler handles organization HTTP endpoints.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates an organizations handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// CreateOrganizationRequest is the body for POST /organizations.
type CreateOrganizationRequest struct {
	Name     string `json:"name" binding:"required"`
	FullName string `json:"full_name"`
}

// ChangeRoleRequest is the body for PUT /organizations/:id/members/:memberId/role.
type ChangeRoleRequest struct {
	RoleID uuid.UUID `json:"role_id" binding:"required"`
}

// CreateOrganization handles POST /organizations. The caller becomes its admin.
func (h *Handler) CreateOrganization(c *gin.Context) {
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "El nombre es obligatorio")
		return
	}
	creator := models.Profile{
		ID:       c.MustGet(middleware.ContextUserID).(uuid.UUID),
		Email:    c.GetString(middleware.ContextUserEmail),
		FullName: body.FullName,
	}
	org, err := h.service.Create(c.Request.Context(), creator, body.Name)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Organización creada", org)
}

// ListMyOrganizations handles GET /organizations.
func (h *Handler) ListMyOrganizations(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	orgs, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Organizaciones", orgs)
}

// GetOrganization handles GET /organizations/:id.
func (h *Handler) GetOrganization(c *gin.Context) {
	response.OK(c, "Organización", h.service.Get(access.MembershipFrom(c)))
}

// ListMembers handles GET /organizations/:id/members.
func (h *Handler) ListMembers(c *gin.Context) {
	m := access.MembershipFrom(c)
	page := utils.ParsePage(c.Query("page"), c.Query("limit"))
	members, err := h.service.Members(c.Request.Context(), m.Organization.ID, page)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Miembros", members)
}

// ListRoles handles GET /organizations/:id/roles.
func (h *Handler) ListRoles(c *gin.Context) {
	m := access.MembershipFrom(c)
	roles, err := h.service.Roles(c.Request.Context(), m.Organization.ID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Roles", roles)
}

func memberID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("memberId"))
	if err != nil {
		response.BadRequest(c, "ID de miembro inválido")
		return uuid.Nil, false
	}
	return id, true
}

// RemoveMember handles DELETE /organizations/:id/members/:memberId.
func (h *Handler) RemoveMember(c *gin.Context) {
	m := access.MembershipFrom(c)
	id, ok := memberID(c)
	if !ok {
		return
	}
	if err := h.service.RemoveMember(c.Request.Context(), m.Organization.ID, m.UserID, id); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Miembro eliminado", nil)
}

// ChangeRole handles PUT /organizations/:id/members/:memberId/role.
func (h *Handler) ChangeRole(c *gin.Context) {
	m := access.MembershipFrom(c)
	id, ok := memberID(c)
	if !ok {
		return
	}
	var body ChangeRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "role_id es obligatorio")
		return
	}
	member, err := h.service.ChangeRole(c.Request.Context(), m.Organization.ID, m.UserID, id, body.RoleID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Rol actualizado", member)
}

// Register mounts the routes. org is the /organizations/:id group.
func (h *Handler) Register(api, org *gin.RouterGroup, guard *access.Guard) {
	api.POST("/organizations", h.CreateOrganization)
	api.GET("/organizations", h.ListMyOrganizations)

	admin := access.RequireOrgRole(guard, h.logger, models.RoleAdmin)
	org.GET("", access.RequireRoute(guard, "/", h.logger), h.GetOrganization)
	org.GET("/roles", access.RequireMember(guard, h.logger), h.ListRoles)
	org.GET("/members", access.RequireRoute(guard, "/members", h.logger), h.ListMembers)
	manage := access.RequirePermission(models.PermMembersManage)
	org.DELETE("/members/:memberId", admin, manage, h.RemoveMember)
	org.PUT("/members/:memberId/role", admin, manage, h.ChangeRole)
}
