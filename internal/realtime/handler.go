package realtime

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echoroom/internal/auth"
	"github.com/lalith-99/echoroom/internal/middleware"
	"go.uber.org/zap"
)

// Handler upgrades authenticated HTTP requests to push-channel
// connections and hands them to the Hub.
type Handler struct {
	hub      *Hub
	secret   string
	origins  []string
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(hub *Hub, secret string, allowedOrigins []string, logger *zap.Logger) *Handler {
	h := &Handler{
		hub:     hub,
		secret:  secret,
		origins: allowedOrigins,
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return middleware.OriginAllowed(h.origins, r.Header.Get("Origin"))
		},
	}
	return h
}

// connectPayload is sent as the first frame once a connection is admitted.
type connectPayload struct {
	ID string `json:"id"`
}

// ServeWS handles GET /socket.
//
// The token is checked before the upgrade: a missing, tampered or expired
// token gets a plain 401 and no websocket is ever opened, so the client
// never observes "connect".
func (h *Handler) ServeWS(c *gin.Context) {
	r := c.Request

	if !middleware.OriginAllowed(h.origins, r.Header.Get("Origin")) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"msg": "Not allowed by CORS"})
		return
	}

	token := auth.HandshakeToken(r)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Authentication error: token missing"})
		return
	}
	claims, err := auth.ParseToken(token, h.secret)
	if err != nil {
		h.logger.Info("push handshake rejected",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Authentication error: invalid token"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(h.hub, ws, claims.UserID, claims.Username)

	hello, err := NewEnvelope(EventConnect, connectPayload{ID: conn.id})
	if err == nil {
		err = conn.queue(hello)
	}
	if err != nil {
		conn.logger.Error("queue connect event", zap.Error(err))
		_ = ws.Close()
		return
	}

	if !h.hub.Register(conn) {
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
		_ = ws.Close()
		return
	}

	go conn.writePump()
	go conn.readPump()
}
