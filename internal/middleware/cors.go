package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// OriginAllowed reports whether a browser origin may talk to the server.
// Requests without an Origin header (curl, native clients) are allowed.
func OriginAllowed(allowed []string, origin string) bool {
	return origin == "" || lo.Contains(allowed, origin)
}

// CORS enforces the origin allow-list for REST calls. Preflights from
// unknown origins are answered 403 by gin-contrib/cors; plain requests from
// them are rejected here before reaching a handler.
func CORS(allowed []string) gin.HandlerFunc {
	policy := cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return lo.Contains(allowed, origin)
		},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	})

	return func(c *gin.Context) {
		if !OriginAllowed(allowed, c.GetHeader("Origin")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "Not allowed by CORS"})
			return
		}
		policy(c)
	}
}
