package access

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/internal/models"
	"github.com/porteria/backend/pkg/response"
)

// ContextMembership is the gin context key holding the caller's *models.Membership.
const ContextMembership = "membership"

// MembershipFrom returns the membership stored by RequireRoute or RequireOrgRole.
func MembershipFrom(c *gin.Context) *models.Membership {
	v, ok := c.Get(ContextMembership)
	if !ok {
		return nil
	}
	m, _ := v.(*models.Membership)
	return m
}

// OrganizationID parses the :id path parameter.
func OrganizationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	return id, err == nil
}

// RequireRoute guards /organizations/:id/... routes with CheckRouteAccess for routePath.
// Call after JWT.
func RequireRoute(guard *Guard, routePath string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := OrganizationID(c)
		if !ok {
			response.BadRequest(c, "ID de organización inválido")
			c.Abort()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		decision, err := guard.CheckRouteAccess(c.Request.Context(), userID, orgID, routePath)
		if err != nil {
			response.Error(c, logger, err)
			c.Abort()
			return
		}
		if !decision.HasAccess {
			deny(c, orgID, decision.Err(), logger)
			return
		}
		c.Set(ContextMembership, decision.Membership)
		c.Next()
	}
}

// RequireOrgRole guards /organizations/:id/... routes with a literal role allow-list.
func RequireOrgRole(guard *Guard, logger *zap.Logger, roles ...models.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := OrganizationID(c)
		if !ok {
			response.BadRequest(c, "ID de organización inválido")
			c.Abort()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		m, err := guard.RequireRole(c.Request.Context(), userID, orgID, roles...)
		if err != nil {
			deny(c, orgID, err, logger)
			return
		}
		c.Set(ContextMembership, m)
		c.Next()
	}
}

// RequireMember only requires a membership in the organization.
func RequireMember(guard *Guard, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := OrganizationID(c)
		if !ok {
			response.BadRequest(c, "ID de organización inválido")
			c.Abort()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		m, err := guard.Membership(c.Request.Context(), userID, orgID)
		if err != nil {
			deny(c, orgID, err, logger)
			return
		}
		c.Set(ContextMembership, m)
		c.Next()
	}
}

// RequirePermission aborts unless the membership stored by an earlier access
// middleware carries code.
func RequirePermission(code string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !MembershipFrom(c).HasPermission(code) {
			response.Forbidden(c, "No tienes permiso para realizar esta acción")
			c.Abort()
			return
		}
		c.Next()
	}
}

// deny answers a page navigation with a redirect to the organization's home (or
// the organization list for non-members) and API calls with the error envelope.
func deny(c *gin.Context, orgID uuid.UUID, err error, logger *zap.Logger) {
	if wantsHTML(c) {
		target := "/organizations/" + orgID.String()
		if errors.Is(err, ErrNotMember) {
			target = "/organizations"
		}
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}
	response.Error(c, logger, err)
	c.Abort()
}

func wantsHTML(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet {
		return false
	}
	return strings.Contains(c.GetHeader("Accept"), "text/html")
}
