package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/echoroom/internal/apperr"
	"go.uber.org/zap"
)

// respondError translates a service error into a status and a {"msg"} body.
// Store failures are logged here; their details never reach the client.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)

	var msg string
	switch {
	case errors.Is(err, apperr.ErrInvalid):
		msg = reason(err, apperr.ErrInvalid)
	case errors.Is(err, apperr.ErrForbidden):
		msg = "Not authorized"
	case errors.Is(err, apperr.ErrNotFound):
		msg = "Message not found"
	case errors.Is(err, apperr.ErrUnauthenticated):
		msg = "Token is not valid"
	default:
		logger.Error(op+" failed", zap.Error(err))
		msg = "Server error"
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"msg": msg})
}

// reason strips the sentinel suffix so "content is required: invalid
// input" is reported as "content is required".
func reason(err, sentinel error) string {
	return strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
}
