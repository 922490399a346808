package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/porteria/backend/internal/auth"
	"github.com/porteria/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID (uuid.UUID) in gin context.
	ContextUserID = "user_id"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that validates the bearer token and sets user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "No has iniciado sesión")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "Encabezado de autorización inválido")
			c.Abort()
			return
		}
		if !authenticate(c, jwtService, parts[1]) {
			return
		}
		c.Next()
	}
}

// JWTQuery authenticates with the token query parameter. Browsers cannot set
// headers on websocket upgrades.
func JWTQuery(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			response.Unauthorized(c, "No has iniciado sesión")
			c.Abort()
			return
		}
		if !authenticate(c, jwtService, token) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, jwtService *auth.JWTService, token string) bool {
	claims, err := jwtService.Validate(token)
	if err != nil {
		response.Unauthorized(c, "Sesión inválida o expirada")
		c.Abort()
		return false
	}
	userID, _ := claims.UserID()
	c.Set(ContextUserID, userID)
	c.Set(ContextUserEmail, claims.Email)
	return true
}
