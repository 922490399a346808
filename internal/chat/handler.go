package chat

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/porteria/backend/internal/access"
	"github.com/porteria/backend/internal/middleware"
	"github.com/porteria/backend/pkg/response"
	"github.com/porteria/backend/pkg/utils"
)

// Handler handles chat HTTP endpoints under /organizations/:id/chat. Every route
// runs behind an access middleware that stores the caller's membership.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// SetPermissionRequest is the body for PUT /organizations/:id/chat/permissions.
type SetPermissionRequest struct {
	SenderRoleID    uuid.UUID `json:"sender_role_id" binding:"required"`
	RecipientRoleID uuid.UUID `json:"recipient_role_id" binding:"required"`
	Disabled        *bool     `json:"disabled" binding:"required"`
}

// SendMessageRequest is the body for POST /organizations/:id/chat/messages.
type SendMessageRequest struct {
	RecipientID    *uuid.UUID `json:"recipient_id"`
	RoleID         *uuid.UUID `json:"role_id"`
	ConversationID *uuid.UUID `json:"conversation_id"`
	Content        string     `json:"content" binding:"required"`
}

// RequestResolutionRequest is the body for POST .../conversations/:cid/resolve.
type RequestResolutionRequest struct {
	ResolutionNote string `json:"resolution_note"`
}

// DecideResolutionRequest is the body for PUT .../conversations/:cid/resolve.
type DecideResolutionRequest struct {
	RequestID uuid.UUID `json:"request_id" binding:"required"`
	Action    string    `json:"action" binding:"required,oneof=approve reject"`
}

func (h *Handler) caller(c *gin.Context) (uuid.UUID, Caller) {
	orgID, _ := access.OrganizationID(c)
	return orgID, CallerFrom(access.MembershipFrom(c))
}

// GetPermissions handles GET /organizations/:id/chat/permissions.
func (h *Handler) GetPermissions(c *gin.Context) {
	orgID, _ := h.caller(c)
	matrix, err := h.service.Engine().Matrix(c.Request.Context(), orgID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Permisos de chat", matrix)
}

// SetPermission handles PUT /organizations/:id/chat/permissions.
func (h *Handler) SetPermission(c *gin.Context) {
	orgID, _ := h.caller(c)
	var body SetPermissionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "sender_role_id, recipient_role_id y disabled son obligatorios")
		return
	}
	if err := h.service.Engine().SetPermission(c.Request.Context(), orgID, body.SenderRoleID, body.RecipientRoleID, *body.Disabled); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	msg := "Mensajería habilitada"
	if *body.Disabled {
		msg = "Mensajería deshabilitada"
	}
	response.OK(c, msg, gin.H{
		"sender_role_id":    body.SenderRoleID,
		"recipient_role_id": body.RecipientRoleID,
		"disabled":          *body.Disabled,
	})
}

// CheckPermission handles GET /organizations/:id/chat/permissions/check?userId=.
func (h *Handler) CheckPermission(c *gin.Context) {
	orgID, caller := h.caller(c)
	recipientID, err := uuid.Parse(c.Query("userId"))
	if err != nil {
		response.BadRequest(c, "userId inválido")
		return
	}
	ok, err := h.service.Engine().CanMessage(c.Request.Context(), orgID, caller.UserID, recipientID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Permiso verificado", gin.H{"can_message": ok})
}

// MessageableRoles handles GET /organizations/:id/chat/roles.
func (h *Handler) MessageableRoles(c *gin.Context) {
	orgID, caller := h.caller(c)
	roles, err := h.service.Engine().MessageableRoles(c.Request.Context(), orgID, caller.UserID)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Roles disponibles", roles)
}

// SendMessage handles POST /organizations/:id/chat/messages.
func (h *Handler) SendMessage(c *gin.Context) {
	orgID, caller := h.caller(c)
	var body SendMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "El contenido del mensaje es obligatorio")
		return
	}
	res, err := h.service.Send(c.Request.Context(), orgID, caller, SendInput{
		RecipientID:    body.RecipientID,
		RoleID:         body.RoleID,
		ConversationID: body.ConversationID,
		Content:        body.Content,
	})
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Mensaje enviado", res)
}

// ListConversations handles GET /organizations/:id/chat/conversations.
func (h *Handler) ListConversations(c *gin.Context) {
	orgID, caller := h.caller(c)
	list, err := h.service.ListUserConversations(c.Request.Context(), orgID, caller, utils.ParsePage(c.Query("page"), c.Query("limit")))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Conversaciones", list)
}

// ListRoleConversations handles GET /organizations/:id/chat/role-conversations.
func (h *Handler) ListRoleConversations(c *gin.Context) {
	orgID, caller := h.caller(c)
	list, err := h.service.ListRoleConversations(c.Request.Context(), orgID, caller, utils.ParsePage(c.Query("page"), c.Query("limit")))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Conversaciones con roles", list)
}

// ListMessages handles GET /organizations/:id/chat/conversations/:cid/messages.
func (h *Handler) ListMessages(c *gin.Context) {
	orgID, caller := h.caller(c)
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	list, err := h.service.ListMessages(c.Request.Context(), orgID, convID, caller, utils.ParsePage(c.Query("page"), c.Query("limit")))
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Mensajes", list)
}

// RequestResolution handles POST /organizations/:id/chat/conversations/:cid/resolve.
func (h *Handler) RequestResolution(c *gin.Context) {
	orgID, caller := h.caller(c)
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	var body RequestResolutionRequest
	// The note is optional; an empty body is fine.
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, "resolution_note inválido")
		return
	}
	req, err := h.service.RequestResolution(c.Request.Context(), orgID, convID, caller, body.ResolutionNote)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.Created(c, "Solicitud de resolución enviada", req)
}

// DecideResolution handles PUT /organizations/:id/chat/conversations/:cid/resolve.
func (h *Handler) DecideResolution(c *gin.Context) {
	orgID, caller := h.caller(c)
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	var body DecideResolutionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "request_id y action (approve o reject) son obligatorios")
		return
	}
	approve := body.Action == "approve"
	req, err := h.service.DecideResolution(c.Request.Context(), orgID, convID, body.RequestID, caller, approve)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	msg := "Solicitud de resolución rechazada"
	if approve {
		msg = "Conversación marcada como resuelta"
	}
	response.OK(c, msg, req)
}

// Archive handles POST /organizations/:id/chat/conversations/:cid/archive.
func (h *Handler) Archive(c *gin.Context) {
	orgID, caller := h.caller(c)
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := h.service.Archive(c.Request.Context(), orgID, convID, caller)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Conversación archivada", conv)
}

// MarkConversationRead handles PUT /organizations/:id/chat/conversations/:cid/read.
func (h *Handler) MarkConversationRead(c *gin.Context) {
	orgID, caller := h.caller(c)
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	n, err := h.service.MarkConversationRead(c.Request.Context(), orgID, convID, caller)
	if err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Mensajes marcados como leídos", gin.H{"marked": n})
}

// MarkMessageRead handles PUT /organizations/:id/chat/messages/:mid/read.
func (h *Handler) MarkMessageRead(c *gin.Context) {
	orgID, caller := h.caller(c)
	msgID, err := uuid.Parse(c.Param("mid"))
	if err != nil {
		response.BadRequest(c, "ID de mensaje inválido")
		return
	}
	if err := h.service.MarkMessageRead(c.Request.Context(), orgID, msgID, caller); err != nil {
		response.Error(c, h.logger, err)
		return
	}
	response.OK(c, "Mensaje marcado como leído", nil)
}

// Register mounts the chat routes on an /organizations/:id group.
func (h *Handler) Register(org *gin.RouterGroup, guard *access.Guard, limiter *middleware.RateLimiter) {
	member := access.RequireRoute(guard, "/chat", h.logger)
	admin := access.RequireRoute(guard, "/chat/permissions", h.logger)

	g := org.Group("/chat")
	g.GET("/permissions", member, h.GetPermissions)
	g.PUT("/permissions", admin, h.SetPermission)
	g.GET("/permissions/check", member, h.CheckPermission)
	g.GET("/roles", member, h.MessageableRoles)
	g.POST("/messages", middleware.RateLimit(limiter), member, h.SendMessage)
	g.GET("/conversations", member, h.ListConversations)
	g.GET("/role-conversations", member, h.ListRoleConversations)
	g.GET("/conversations/:cid/messages", member, h.ListMessages)
	g.POST("/conversations/:cid/resolve", member, h.RequestResolution)
	g.PUT("/conversations/:cid/resolve", member, h.DecideResolution)
	g.POST("/conversations/:cid/archive", member, h.Archive)
	g.PUT("/conversations/:cid/read", member, h.MarkConversationRead)
	g.PUT("/messages/:mid/read", member, h.MarkMessageRead)
}

func conversationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("cid"))
	if err != nil {
		response.BadRequest(c, "ID de conversación inválido")
		return uuid.Nil, false
	}
	return id, true
}
