package middleware

import (
	"net/http"
	"strings"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/services"
	apperrors "lessonlive/pkg/errors"
	"lessonlive/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	ContextIdentity    = "identity"
	ContextDisplayName = "display_name"
	ContextAdmin       = "admin"
)

// BearerToken reads the token from the Authorization header, falling back to
// the token query parameter browsers use for websocket upgrades.
func BearerToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": "bearer token required",
			})
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "UNAUTHORIZED",
				"message": err.Error(),
			})
			return
		}

		c.Set(ContextIdentity, claims.Identity)
		c.Set(ContextDisplayName, claims.DisplayName)
		c.Set(ContextAdmin, claims.Admin)
		c.Request = c.Request.WithContext(logger.WithIdentity(c.Request.Context(), string(claims.Identity)))
		c.Next()
	}
}

// AdminOnly must run after AuthMiddleware.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			appErr := apperrors.NewForbiddenError("admin privileges required")
			c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
				"error":   string(appErr.Code),
				"message": appErr.Message,
			})
			return
		}
		c.Next()
	}
}

func Identity(c *gin.Context) domain.Identity {
	if v, ok := c.Get(ContextIdentity); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return ""
}

func DisplayName(c *gin.Context) string {
	return c.GetString(ContextDisplayName)
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextAdmin)
}
