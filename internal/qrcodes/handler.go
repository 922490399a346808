package qrcodes

import (
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

// Handler handles QR code and access-log HTTP endpoints.
type Handler struct {
	service *Service
	guard   *access.Guard
	logger  *zap.Logger
}

// NewHandler creates a QR handler.
func NewHandler(service *Service, guard *access.Guard, logger *zap.Logger) *Handler {
	return &Handler{service: service, guard: guard, logger: logger}
}

// CreateRequest is the body for POST /qr-codes.
type CreateRequest struct {
	OrganizationID uuid.UUID  `json:"organization_id" binding:"required"`
	VisitorName    string     `json:"visitor_name" binding:"required"`
	VisitorID      string     `json:"visitor_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// ValidateRequest is the body for POST /qr-codes/validate/:token.
type ValidateRequest struct {
	OrganizationID uuid.UUID        `json:"organization_id" binding:"required"`
	EntryType      models.EntryType `json:"entry_type"`
	Notes          string           `json:"notes"`
}

// ExitRequest is the body for POST /organizations/:id/access-logs/exit.
type ExitRequest struct {
	QRCodeID uuid.UUID `json:"qr_code_id" binding:"required"`
	Notes    string    `json:"notes"`
}

// ExportRequest is the optional body for POST /organizations/:id/access-logs/export.
type ExportRequest struct {
	From      *time.Time       `json:"from"`
	To        *time.Time       `json:"to"`
	EntryType models.EntryType `json:"entry_type"`
}

// requireRole loads the caller's membership in orgID and checks the role allow-list
// and the permission code, writing the error response when either fails.
func (h *Handler) requireRole(c *gin.Context, orgID uuid.UUID, perm string, roles ...models.RoleName) (*models.Membership, bool) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	m, err := h.guard.RequireRole(c.Request.Context(), userID, orgID, roles...)
	if err != nil {
		response.Error(c, h.logger, err)
		return nil, false
	}
	if !m.HasPermission(perm) {
		response.Forbidden(c, "No tienes permiso para realizar esta acción")
		return nil, false
	}
	return m, true
}

func queryOrganization(c *gin.Context) (uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Query("organization_id"))
	if err != nil {
		response.BadRequest(c, "organization_id inválido")
		return uuid.Nil, false
	}
	return orgID, true
}

// Create handles POST /qr-codes. Residents only.
func (h *Handler) Create(c *gin.Context) {
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "organization_id y visitor_name son obligatorios")
		return
	}
	m, ok := h.requireRole(c, body.OrganizationID, models.PermQRCreate, models.RoleResident)
	if !ok {
		return
	}
	code, err := h.service.Create(c.Request.Context(), body.OrganizationID, m.UserID, CreateInput{
		VisitorName: body.VisitorName,
		VisitorID:   body.VisitorID,
		ExpiresAt:   body.ExpiresAt,
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Código QR generado", code)
}

// List handles GET /qr-codes?organization_id=.
func (h *Handler) List(c *gin.Context) {
	orgID, ok := queryOrganization(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	decision, err := h.guard.CheckRouteAccess(c.Request.Context(), userID, orgID, "/qr-codes")
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	if !decision.HasAccess {
		response.Error(c, h.logger, decision.Err())
		return
	}
	list, err := h.service.List(c.Request.Context(), decision.Membership, utils.ParsePage(c.Query("page"), c.Query("limit")))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Códigos QR", list)
}

// Revoke handles DELETE /qr-codes/:qrId?organization_id=.
func (h *Handler) Revoke(c *gin.Context) {
	orgID, ok := queryOrganization(c)
	if !ok {
		return
	}
	qrID, err := uuid.Parse(c.Param("qrId"))
	if err != nil {
		response.BadRequest(c, "ID de código QR inválido")
		return
	}
	m, ok := h.requireRole(c, orgID, models.PermQRCreate, models.RoleResident)
	if !ok {
		return
	}
	code, err := h.service.Revoke(c.Request.Context(), orgID, m.UserID, qrID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Código QR revocado", code)
}

// Validate handles POST /qr-codes/validate/:token. Security only.
func (h *Handler) Validate(c *gin.Context) {
	var body ValidateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "organization_id es obligatorio")
		return
	}
	if body.EntryType != "" && body.EntryType != models.EntryTypeEntry {
		response.BadRequest(c, "La validación registra entradas; usa el registro de salida para salidas")
		return
	}
	m, ok := h.requireRole(c, body.OrganizationID, models.PermQRValidate, models.RoleSecurity)
	if !ok {
		return
	}
	consumed, err := h.service.Validate(c.Request.Context(), body.OrganizationID, m.UserID, c.Param("token"), body.Notes)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Acceso autorizado", consumed)
}

// LogExit handles POST /organizations/:id/access-logs/exit.
func (h *Handler) LogExit(c *gin.Context) {
	m := access.MembershipFrom(c)
	var body ExitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "qr_code_id es obligatorio")
		return
	}
	log, err := h.service.LogExit(c.Request.Context(), m.Organization.ID, m.UserID, body.QRCodeID, body.Notes)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Salida registrada", log)
}

// ListAccessLogs handles GET /organizations/:id/access-logs?from=&to=&entry_type=.
func (h *Handler) ListAccessLogs(c *gin.Context) {
	m := access.MembershipFrom(c)
	filter, ok := parseFilter(c)
	if !ok {
		return
	}
	list, err := h.service.AccessLogs(c.Request.Context(), m.Organization.ID, filter, utils.ParsePage(c.Query("page"), c.Query("limit")))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Historial de accesos", list)
}

// Export handles POST /organizations/:id/access-logs/export.
func (h *Handler) Export(c *gin.Context) {
	m := access.MembershipFrom(c)
	if !m.HasPermission(models.PermAccessLogsExport) {
		response.Forbidden(c, "No tienes permiso para exportar el historial")
		return
	}
	var body ExportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.BadRequest(c, "Filtros inválidos")
			return
		}
	}
	res, err := h.service.Export(c.Request.Context(), m.Organization.ID, LogFilter{From: body.From, To: body.To, EntryType: body.EntryType})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Exportación lista", res)
}

func parseFilter(c *gin.Context) (LogFilter, bool) {
	var f LogFilter
	for key, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.BadRequest(c, key+" debe tener formato RFC3339")
			return LogFilter{}, false
		}
		*dst = &t
	}
	f.EntryType = models.EntryType(c.Query("entry_type"))
	return f, true
}

// Register mounts the QR routes. org is the /organizations/:id group.
func (h *Handler) Register(api, org *gin.RouterGroup, limiter *middleware.RateLimiter) {
	api.POST("/qr-codes", h.Create)
	api.GET("/qr-codes", h.List)
	api.DELETE("/qr-codes/:qrId", h.Revoke)
	api.POST("/qr-codes/validate/:token", middleware.RateLimit(limiter), h.Validate)

	org.GET("/access-logs", access.RequireRoute(h.guard, "/access-logs", h.logger), h.ListAccessLogs)
	org.POST("/access-logs/export", access.RequireRoute(h.guard, "/access-logs", h.logger), h.Export)
	org.POST("/access-logs/exit", access.RequireOrgRole(h.guard, h.logger, models.RoleSecurity), h.LogExit)
}
