// Package realtime is the push-channel broadcast core. A Hub owns the
// registry of open connections and runs a single event loop that admits
// and removes connections, validates change notifications against each
// connection's authenticated user, re-fetches canonical state, and fans
// the result out. Only the loop touches the registry.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	inboundBuffer = 256
	relayTimeout  = 5 * time.Second
)

type inbound struct {
	conn *Conn
	env  Envelope
}

type Hub struct {
	nodeID string
	store  MessageReader
	relay  Relay
	logger *zap.Logger

	// clients is the connection registry, keyed by connection id.
	// Owned by Run; never touched from another goroutine.
	clients map[string]*Conn
	count   atomic.Int64

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	results    chan Broadcast
	remote     chan Broadcast

	// workers tracks re-fetch and relay goroutines so Run can wait for
	// them on shutdown.
	workers sync.WaitGroup
	done    chan struct{}
}

type Option func(*Hub)

// WithRelay publishes every locally originated broadcast through r.
func WithRelay(r Relay) Option {
	return func(h *Hub) { h.relay = r }
}

// WithNodeID sets the id stamped on broadcasts; the relay uses it to skip
// its own messages. Defaults to a random uuid.
func WithNodeID(id string) Option {
	return func(h *Hub) {
		if id != "" {
			h.nodeID = id
		}
	}
}

func NewHub(store MessageReader, logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		nodeID:     uuid.NewString(),
		store:      store,
		logger:     logger,
		clients:    make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound, inboundBuffer),
		results:    make(chan Broadcast),
		remote:     make(chan Broadcast, inboundBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) NodeID() string { return h.nodeID }

// ClientCount is safe to call from any goroutine.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Done is closed once Run has stopped accepting events.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run is the event loop. It returns after ctx is cancelled, every
// connection has been closed, and in-flight re-fetches have finished.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started", zap.String("node_id", h.nodeID))

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.clients[c.id] = c
			h.count.Add(1)
			c.logger.Info("connection admitted", zap.Int("clients", len(h.clients)))

		case c := <-h.unregister:
			h.drop(c, "disconnected")

		case in := <-h.inbound:
			h.handleNotification(ctx, in.conn, in.env)

		case b := <-h.results:
			h.emit(ctx, b)

		case b := <-h.remote:
			if b.Node == h.nodeID {
				continue
			}
			h.fanout(b)
		}
	}
}

// Register admits an authenticated connection. Returns false if the hub
// has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection. Safe to call more than once.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver fans out a broadcast received from another instance.
func (h *Hub) Deliver(b Broadcast) {
	select {
	case h.remote <- b:
	case <-h.done:
	}
}

func (h *Hub) submit(c *Conn, env Envelope) {
	select {
	case h.inbound <- inbound{conn: c, env: env}:
	case <-h.done:
	}
}

func (h *Hub) handleNotification(ctx context.Context, c *Conn, env Envelope) {
	switch env.Event {
	case EventSendMessage:
		// Full broadcast: the author's own connection also needs the
		// canonical id and timestamps.
		h.handleMessageNotification(ctx, c, env, EventReceiveMessage, "")
	case EventEditMessage:
		h.handleMessageNotification(ctx, c, env, EventEditMessage, c.id)
	case EventDeleteMessage:
		h.handleDeleteNotification(ctx, c, env)
	default:
		c.logger.Warn("unknown event, ignoring", zap.String("event", env.Event))
	}
}

// handleMessageNotification covers sendMessage and editMessage: the claimed
// sender must be the connection's user, then the message is re-fetched off
// the loop and the result comes back through h.results.
func (h *Hub) handleMessageNotification(ctx context.Context, c *Conn, env Envelope, out, exclude string) {
	log := c.logger.With(zap.String("event", env.Event))

	n, messageID, err := decodeMessageNotification(env.Data)
	if err != nil {
		log.Warn("invalid notification, ignoring event", zap.Error(err))
		return
	}

	senderID, ok := n.Sender.UserID()
	if !ok || senderID != c.userID {
		log.Warn("sender mismatch or missing, ignoring event",
			zap.String("claimed_sender", n.Sender.ID),
		)
		return
	}

	h.workers.Add(1)
	go h.refetch(ctx, log, messageID, out, exclude)
}

func (h *Hub) refetch(ctx context.Context, log *zap.Logger, messageID uuid.UUID, event, exclude string) {
	defer h.workers.Done()
	log = log.With(zap.String("message_id", messageID.String()))

	msg, err := h.store.GetHydrated(ctx, messageID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("re-fetch failed, dropping broadcast", zap.Error(err))
		}
		return
	}
	if msg == nil {
		log.Info("message gone before broadcast, dropping")
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Error("encode message", zap.Error(err))
		return
	}

	select {
	case h.results <- Broadcast{Node: h.nodeID, Event: event, Data: data, Exclude: exclude}:
	case <-h.done:
	}
}

// handleDeleteNotification does no sender check: the REST delete already
// enforced ownership. The payload is the bare id.
func (h *Hub) handleDeleteNotification(ctx context.Context, c *Conn, env Envelope) {
	messageID, err := decodeDeleteNotification(env.Data)
	if err != nil {
		c.logger.Warn("deleteMessage payload invalid, ignoring event", zap.Error(err))
		return
	}

	data, err := json.Marshal(messageID.String())
	if err != nil {
		c.logger.Error("encode message id", zap.Error(err))
		return
	}
	h.emit(ctx, Broadcast{Node: h.nodeID, Event: EventDeleteMessage, Data: data, Exclude: c.id})
}

// emit fans out locally and hands the broadcast to the relay.
func (h *Hub) emit(ctx context.Context, b Broadcast) {
	h.fanout(b)
	if h.relay == nil {
		return
	}

	h.workers.Add(1)
	go func() {
		defer h.workers.Done()
		pctx, cancel := context.WithTimeout(ctx, relayTimeout)
		defer cancel()
		if err := h.relay.Publish(pctx, b); err != nil {
			h.logger.Error("relay publish failed",
				zap.String("event", b.Event),
				zap.Error(err),
			)
		}
	}()
}

// fanout queues the frame on every open connection except b.Exclude.
// A connection whose buffer is full is dropped; the rest still get the
// frame.
func (h *Hub) fanout(b Broadcast) {
	frame, err := Envelope{Event: b.Event, Data: b.Data}.Encode()
	if err != nil {
		h.logger.Error("encode broadcast", zap.String("event", b.Event), zap.Error(err))
		return
	}

	delivered := 0
	for id, c := range h.clients {
		if id == b.Exclude || c.closed {
			continue
		}
		select {
		case c.send <- frame:
			delivered++
		default:
			h.drop(c, "send buffer full")
		}
	}

	h.logger.Debug("broadcast",
		zap.String("event", b.Event),
		zap.Int("delivered", delivered),
		zap.Bool("exclude_originator", b.Exclude != ""),
	)
}

// drop removes c from the registry and closes its send channel, which
// makes its write pump send a close frame and exit.
func (h *Hub) drop(c *Conn, reason string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	h.count.Add(-1)
	c.closed = true
	close(c.send)
	c.logger.Info("connection removed",
		zap.String("reason", reason),
		zap.Int("clients", len(h.clients)),
	)
}

func (h *Hub) shutdown() {
	h.logger.Info("shutting down realtime hub", zap.Int("clients", len(h.clients)))
	for _, c := range h.clients {
		h.drop(c, "server shutdown")
	}
	close(h.done)
	h.workers.Wait()
	h.logger.Info("realtime hub stopped")
}
