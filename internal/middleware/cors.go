package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is a parsed CORS_ALLOWED_ORIGINS value. Empty or "*" allows any origin.
type Origins map[string]bool

// ParseOrigins reads a comma-separated origin list.
func ParseOrigins(s string) Origins {
	o := make(Origins)
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			o[strings.TrimRight(v, "/")] = true
		}
	}
	return o
}

// Any reports whether every origin is allowed.
func (o Origins) Any() bool { return len(o) == 0 || o["*"] }

// Allows reports whether a browser origin may call the API. Requests without
// an Origin header are not cross-origin and always pass.
func (o Origins) Allows(origin string) bool {
	return origin == "" || o.Any() || o[origin]
}

// CORS sets CORS headers for allowed origins and answers preflight requests.
func CORS(origins Origins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origins.Any():
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && origins[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		default:
			origin = ""
		}
		if origin != "" || origins.Any() {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderRequestID)
			c.Header("Access-Control-Expose-Headers", HeaderRequestID)
			c.Header("Access-Control-Max-Age", "86400")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
