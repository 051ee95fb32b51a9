package middlewares

import (
	"net/http"
	"os"
	"strconv"

	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdentityMiddleware lifts the caller identity injected by the gateway into
// the request context. Authentication happens upstream; this layer only
// trusts and propagates.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		userIdHeader := c.Request.Header.Get("X-User-Id")
		if userIdHeader != "" {
			userId, err := strconv.Atoi(userIdHeader)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid X-User-Id"})
				c.Abort()
				return
			}
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if name := c.Request.Header.Get("X-User-Name"); name != "" {
			ctx = utils.SetUserNameInContext(ctx, name)
		}
		if role := c.Request.Header.Get("X-User-Role"); role != "" {
			ctx = utils.SetUserRoleInContext(ctx, role)
		}

		correlationId := c.Request.Header.Get("X-Correlation-Id")
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header("X-Correlation-Id", correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireUser rejects requests that carry no identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user identity required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SystemUserId is the audit identity background jobs run under.
func SystemUserId() int {
	raw := os.Getenv("SYSTEM_USER_ID")
	if raw == "" {
		return 1
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 1
	}
	return id
}
