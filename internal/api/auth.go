package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoroom/internal/apperr"
	"github.com/lalith-99/echoroom/internal/auth"
	"github.com/lalith-99/echoroom/internal/models"
	"github.com/lalith-99/echoroom/internal/repository"
	"go.uber.org/zap"
)

// AuthHandler handles register and login, the only public endpoints
// besides health. They sit outside middleware.Auth because they are what
// hands out the token.
type AuthHandler struct {
	userRepo  repository.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewAuthHandler(userRepo repository.UserRepository, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		userRepo:  userRepo,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    logger,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// userResponse is the public profile returned alongside a token.
type userResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func newUserResponse(u *models.User) userResponse {
	return userResponse{ID: u.ID.String(), Username: u.Username, Email: u.Email}
}

// Register handles POST /api/auth/register
//
// Duplicate username or email is a 400, same as any other bad input.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": bindingMessage(err)})
		return
	}
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Username is required"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Registration failed"})
		return
	}

	user, err := h.userRepo.Create(c.Request.Context(), username, email, hash)
	if errors.Is(err, apperr.ErrConflict) {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "Username or email already registered"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Registration failed"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Registration failed"})
		return
	}

	h.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	c.JSON(http.StatusCreated, authResponse{Token: token, User: newUserResponse(user)})
}

// Login handles POST /api/auth/login
//
// Unknown email and wrong password get the same answer so the endpoint
// does not reveal which emails are registered.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": bindingMessage(err)})
		return
	}

	user, err := h.userRepo.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Login failed"})
		return
	}
	if user == nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid credentials"})
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"msg": "invalid credentials"})
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, h.jwtSecret, h.tokenTTL)
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"msg": "Login failed"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token, User: newUserResponse(user)})
}
