package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tullo/bazaar/internal/auth"
	"github.com/tullo/bazaar/internal/models"
)

const (
	userIDKey      = "user_id"
	displayNameKey = "display_name"
)

// AuthMiddleware requires a valid bearer token and stores the caller in the context.
func AuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(displayNameKey, claims.DisplayName)
		c.Next()
	}
}

// CurrentUser returns the authenticated caller. ok is false outside AuthMiddleware.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, exists := c.Get(userIDKey)
	if !exists {
		return models.User{}, false
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return models.User{}, false
	}
	return models.User{ID: id, DisplayName: c.GetString(displayNameKey)}, true
}
