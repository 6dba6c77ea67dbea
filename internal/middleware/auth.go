package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"eoty/internal/models"
	"eoty/internal/service"
)

const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// Auth validates the Bearer token and stores the caller's id and role in
// the request context.
func Auth(auth service.AuthService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "authorization header required",
			})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "authorization header format must be Bearer <token>",
			})
			return
		}

		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			logger.Debug("Rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false, "message": "invalid or expired token",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// Actor rebuilds the authenticated caller from the request context. Only
// valid behind Auth.
func Actor(c *gin.Context) models.Actor {
	return models.Actor{
		ID:   c.GetString(ContextUserID),
		Role: c.GetString(ContextRole),
	}
}

// RequireModerator gates admin routes. The service layer re-checks and
// audits; this just keeps obvious non-admin traffic off those handlers.
func RequireModerator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !models.CanModerate(c.GetString(ContextRole)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false, "message": "moderator role required",
			})
			return
		}
		c.Next()
	}
}
