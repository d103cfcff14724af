package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/auth"
)

// Keys under which Auth stores token claims on the gin context.
const (
	ContextKeyUserID   = "user_id"
	ContextKeyUsername = "username"
)

// Auth returns a Gin middleware that requires a valid bearer JWT.
//
// On failure it aborts with 401 and the handler never runs. On success the
// token's user id and username are stored in the gin context for
// GetUserID / GetUsername.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"msg": "No token, authorization denied",
			})
			return
		}

		claims, err := auth.ParseToken(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"msg": "Token is not valid",
			})
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyUsername, claims.Username)
		c.Next()
	}
}

// GetUserID returns the authenticated user id, or uuid.Nil when the
// middleware did not run.
func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetUsername(c *gin.Context) string {
	return c.GetString(ContextKeyUsername)
}
