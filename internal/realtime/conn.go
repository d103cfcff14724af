package realtime

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer     = 256
	maxMessageSize = 16 * 1024
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
)

// Conn is one admitted push-channel connection. userID is bound at the
// handshake and trusted for every authorization decision on this
// connection until it closes.
type Conn struct {
	id       string
	userID   uuid.UUID
	username string

	ws     *websocket.Conn
	hub    *Hub
	send   chan []byte
	logger *zap.Logger

	// closed is owned by the hub loop.
	closed bool
}

func newConn(hub *Hub, ws *websocket.Conn, userID uuid.UUID, username string) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:       id,
		userID:   userID,
		username: username,
		ws:       ws,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		logger: hub.logger.With(
			zap.String("conn_id", id),
			zap.String("user_id", userID.String()),
			zap.String("username", username),
		),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() uuid.UUID { return c.userID }

// queue puts a frame on the send buffer without blocking. Only valid
// before the connection is registered; afterwards the hub owns sends.
func (c *Conn) queue(env Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// readPump decodes frames and hands them to the hub. It is the only
// reader of c.ws. Malformed frames are logged and skipped.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.logger.Warn("malformed frame, ignoring", zap.Error(err))
			continue
		}
		c.hub.submit(c, env)
	}
}

func (c *Conn) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.logger.Info("client disconnected")
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded size limit", zap.Int("limit", maxMessageSize))
	case errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection closed")
	default:
		c.logger.Info("read failed, closing connection", zap.Error(err))
	}
}

// writePump is the only writer of c.ws. It exits when the hub closes
// c.send or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Info("write failed, closing connection", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Info("ping failed, closing connection", zap.Error(err))
				return
			}
		}
	}
}
