package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-tuition-api/internal/models"
	appErrors "github.com/noah-isme/sma-tuition-api/pkg/errors"
	"github.com/noah-isme/sma-tuition-api/pkg/response"
)

// RBAC enforces role-based access control for routes.
func RBAC(allowed ...models.UserRole) gin.HandlerFunc {
	allowedRoles := make(map[models.UserRole]struct{}, len(allowed))
	for _, role := range allowed {
		allowedRoles[role] = struct{}{}
	}

	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		if _, ok := allowedRoles[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}

		if claims.Role == models.RoleStudent && claims.StudentID == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "account is not linked to a student"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// Staff allows the roles that manage the tuition ledger.
func Staff() gin.HandlerFunc {
	return RBAC(models.RoleSuperAdmin, models.RoleAdmin, models.RoleTreasurer)
}

// Admins allows configuration-level roles only.
func Admins() gin.HandlerFunc {
	return RBAC(models.RoleSuperAdmin, models.RoleAdmin)
}

// Students allows student accounts linked to a student record.
func Students() gin.HandlerFunc {
	return RBAC(models.RoleStudent)
}
