package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const adminKeyContextKey = "admin_key"

// Middleware rejects requests that do not carry the active admin key.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.extractKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin key required"})
			return
		}
		if err := s.Validate(c.Request.Context(), key); err != nil {
			if errors.Is(err, ErrInvalidKey) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			s.log.Error("validate admin key", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.Set(adminKeyContextKey, key)
		c.Next()
	}
}

// AdminKeyFromContext retrieves the key accepted by the middleware.
func AdminKeyFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(adminKeyContextKey)
	if !ok {
		return "", false
	}
	key, ok := val.(string)
	return key, ok
}

func (s *Service) extractKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(s.headerName)); key != "" {
		return key
	}
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
