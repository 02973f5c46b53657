package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gogotex/gogotex/backend/auth-service/internal/auth"
	"github.com/gogotex/gogotex/backend/auth-service/internal/autherr"
)

// Context keys set by AuthMiddleware.
const (
	UserIDKey     = "userId"
	ProviderKey   = "provider"
	ValidationKey = "validation"
)

// TokenValidator is the minimal interface the middleware depends on
type TokenValidator interface {
	ValidateToken(ctx context.Context, token, provider string) (*auth.Validation, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware returns a Gin middleware that validates Bearer tokens. The
// optional X-Auth-Provider header selects the provider; without it the
// validator's default policy applies.
func AuthMiddleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": autherr.CodeUnauthorized, "message": "missing Authorization header"})
			return
		}
		token, ok := BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": autherr.CodeUnauthorized, "message": "invalid Authorization header"})
			return
		}

		val, err := v.ValidateToken(c.Request.Context(), token, c.GetHeader("X-Auth-Provider"))
		if err != nil {
			status, code, msg := http.StatusUnauthorized, autherr.CodeUnauthorized, "invalid token"
			if e, ok := autherr.As(err); ok {
				status, code, msg = e.Status(), e.Code, e.Message
			}
			c.AbortWithStatusJSON(status, gin.H{"success": false, "error": code, "message": msg})
			return
		}

		c.Set(UserIDKey, val.UserID)
		c.Set(ProviderKey, val.Provider)
		c.Set(ValidationKey, val)
		c.Next()
	}
}
