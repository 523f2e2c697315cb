package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	permissionsKey = "permissions"
	roleKey        = "role"
)

// AuthMiddleware validates bearer tokens. With authentication disabled every
// request acts as the editor. Browsers cannot set headers on websocket
// upgrades, so a token query parameter is accepted as well.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(roleKey, RoleEditor)
			c.Set(permissionsKey, a.roleToPermissions(RoleEditor))
			c.Next()
			return
		}

		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error": "invalid authorization header format",
				})
				c.Abort()
				return
			}
			token = parts[1]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			c.Abort()
			return
		}

		role, permissions, err := a.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			c.Abort()
			return
		}

		c.Set(roleKey, role)
		c.Set(permissionsKey, permissions)
		c.Next()
	}
}

// RequirePermission checks if the caller has the required permission
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, exists := c.Get(permissionsKey)
		if !exists {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "no permissions found",
			})
			c.Abort()
			return
		}

		permissions, _ := perms.([]Permission)
		hasPermission := false
		for _, p := range permissions {
			if p == required {
				hasPermission = true
				break
			}
		}

		if !hasPermission {
			c.JSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": string(required),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RoleFrom returns the role stored by AuthMiddleware.
func RoleFrom(c *gin.Context) Role {
	if r, ok := c.Get(roleKey); ok {
		role, _ := r.(Role)
		return role
	}
	return ""
}
