package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"trivialive/services"
)

const IdentityKey = "identity"

// AuthMiddleware verifies the Bearer token and stores the identity in the
// request context.
func AuthMiddleware(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		identity, err := auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(IdentityKey, *identity)
		c.Next()
	}
}
