package middleware

import (
	"slices"

	"github.com/gin-gonic/gin"

	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
)

const (
	UserContextKey = "userID"
	RoleContextKey = "role"

	RoleAdmin    = "admin"
	RoleSeller   = "seller"
	RoleCustomer = "customer"
	RoleShipper  = "shipper"
)

// Auth trusts the identity headers set by the gateway. The cookie fallback
// only exists for calls routed through the gateway.
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		role := c.GetHeader("X-User-Role")

		if userID == "" {
			if v, err := c.Cookie("user_id"); err == nil {
				userID = v
			}
		}
		if role == "" {
			if v, err := c.Cookie("user_role"); err == nil {
				role = v
			}
		}

		if userID == "" {
			apperrors.Respond(c, apperrors.ErrUnauthorized)
			return
		}

		c.Set(UserContextKey, userID)
		c.Set(RoleContextKey, role)
		c.Next()
	}
}

// RequireRole lets the request through when the caller has one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(RoleContextKey)) {
			apperrors.Respond(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	return c.GetString(UserContextKey)
}

func GetRole(c *gin.Context) string {
	return c.GetString(RoleContextKey)
}
