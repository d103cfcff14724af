package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoroom/internal/middleware"
	"github.com/lalith-99/echoroom/internal/repository"
	"go.uber.org/zap"
)

type UserHandler struct {
	repo   repository.UserRepository
	logger *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, logger: logger}
}

// GetMe handles GET /api/auth/me
//
// A valid token for a user that no longer exists is a 404, not a 500.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.repo.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Server error"})
		return
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"msg": "User not found"})
		return
	}

	c.JSON(http.StatusOK, newUserResponse(user))
}
