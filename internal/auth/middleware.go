package auth

import (
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenWaterCore/internal/types"
	"github.com/gin-gonic/gin"
)

const permissionsKey = "permissions"

// AuthMiddleware validates tokens and enforces authentication
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				"unauthorized", "missing authorization header", nil))
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				"unauthorized", "invalid authorization header format", nil))
			return
		}

		permissions, err := a.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.NewErrorResponse(
				"unauthorized", "invalid or expired token", nil))
			return
		}

		c.Set(permissionsKey, permissions)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
				"forbidden", "no permissions found", nil))
			return
		}

		for _, p := range perms.([]Permission) {
			if p == required {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, types.NewErrorResponse(
			"forbidden", "insufficient permissions", gin.H{"required": string(required)}))
	}
}
