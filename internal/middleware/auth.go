package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tripmarket/marketplace-backend/pkg/jwt"
)

// UserContextKey is the gin context key holding the authenticated caller
const UserContextKey = "user_context"

// UserContext is the authenticated caller extracted from the access token
type UserContext struct {
	UserID   uuid.UUID
	Roles    []string
	VendorID *uuid.UUID
}

// HasRole reports whether the caller carries role
func (u UserContext) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller is a platform admin
func (u UserContext) IsAdmin() bool {
	return u.HasRole(jwt.RoleAdmin)
}

// AuthMiddleware validates the bearer token and stores the UserContext
func AuthMiddleware(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "MISSING_AUTH_HEADER", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			abortUnauthorized(c, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		claims, err := jwtService.ValidateAccessToken(strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				abortUnauthorized(c, "TOKEN_EXPIRED", "Access token has expired")
				return
			}
			abortUnauthorized(c, "INVALID_TOKEN", "Invalid access token")
			return
		}

		c.Set(UserContextKey, UserContext{
			UserID:   claims.UserID,
			Roles:    claims.Roles,
			VendorID: claims.VendorID,
		})
		c.Next()
	}
}

// RequireRole allows the request through when the caller has any of roles.
// Must be used after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			abortUnauthorized(c, "MISSING_USER_CONTEXT", "User context not found")
			return
		}

		for _, role := range roles {
			if userCtx.HasRole(role) {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"code":    "INSUFFICIENT_PERMISSIONS",
			"message": "You do not have permission to access this resource",
		})
		c.Abort()
	}
}

// GetUserContext returns the caller stored by AuthMiddleware
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	userCtx, ok := value.(UserContext)
	if !ok {
		return UserContext{}, false
	}
	return userCtx, true
}

// MustGetUserContext is GetUserContext for routes behind AuthMiddleware.
// It panics when the context is missing.
func MustGetUserContext(c *gin.Context) UserContext {
	userCtx, exists := GetUserContext(c)
	if !exists {
		panic("middleware: user context not set, is AuthMiddleware missing?")
	}
	return userCtx
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"code":    code,
		"message": message,
	})
	c.Abort()
}
