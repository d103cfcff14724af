// Package api is the REST gateway: auth, message CRUD, and the route that
// upgrades to the push channel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoroom/internal/config"
	"github.com/lalith-99/echoroom/internal/middleware"
	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/lalith-99/echoroom/internal/repository"
	"github.com/lalith-99/echoroom/internal/service"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Deps is everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Users    repository.UserRepository
	Messages repository.MessageRepository
	Hub      *realtime.Hub
	Logger   *zap.Logger

	// Health, if set, is pinged by GET /api/health (e.g. db.DB.Health).
	Health func(ctx context.Context) error
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORS(d.Config.AllowedOrigins))

	authHandler := NewAuthHandler(d.Users, d.Config.JWTSecret, d.Config.TokenTTL, d.Logger)
	userHandler := NewUserHandler(d.Users, d.Logger)
	messageHandler := NewMessageHandler(service.NewMessageService(d.Messages, d.Logger), d.Logger)
	socketHandler := realtime.NewHandler(d.Hub, d.Config.JWTSecret, d.Config.AllowedOrigins, d.Logger)

	api := r.Group("/api")

	// Public: load balancers hit this without a token.
	api.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"clients": d.Hub.ClientCount(),
		})
	})

	authRoutes := api.Group("/auth")
	authRoutes.POST("/register", authHandler.Register)
	authRoutes.POST("/login", authHandler.Login)
	authRoutes.GET("/me", middleware.Auth(d.Config.JWTSecret), userHandler.GetMe)

	messages := api.Group("/messages")
	messages.Use(middleware.Auth(d.Config.JWTSecret))
	messages.GET("", messageHandler.List)
	messages.POST("", messageHandler.Create)
	messages.PATCH("/:id", messageHandler.Update)
	messages.DELETE("/:id", messageHandler.Delete)

	// The push channel authenticates in its own handshake, not via
	// middleware.Auth, because the token may arrive as a query parameter.
	r.GET("/socket", socketHandler.ServeWS)

	return r
}
