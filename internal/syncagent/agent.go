// Package syncagent is the client side of the sync protocol. An Agent
// performs every mutation over REST first and only on success emits the
// matching change notification on the push channel; events pushed by the
// server are merged into a local Timeline.
package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/echoroom/internal/models"
	"github.com/lalith-99/echoroom/internal/realtime"
	"go.uber.org/zap"
)

const (
	requestTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
	eventBuffer    = 64
)

var (
	// ErrNotConnected is returned by Notify before Connect or after Close.
	ErrNotConnected = errors.New("push channel not connected")

	// ErrAlreadyConnected: an Agent owns at most one push channel in its
	// lifetime; Events is closed when it ends.
	ErrAlreadyConnected = errors.New("push channel already opened")
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Msg)
}

// HandshakeError is a push-channel upgrade the server refused.
type HandshakeError struct {
	Status int
	Msg    string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected (%d): %s", e.Status, e.Msg)
}

// Event is a server push, after it has been merged into the Timeline.
type Event struct {
	Name    string
	Message *models.HydratedMessage // receiveMessage, editMessage
	ID      uuid.UUID               // deleteMessage
}

// User is the authenticated profile returned by register and login.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type Agent struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *zap.Logger

	mu    sync.Mutex
	token string
	user  User

	// writeMu serialises frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	ws      *websocket.Conn
	connID  string

	timeline *Timeline
	events   chan Event
	readDone chan struct{}
}

type Option func(*Agent)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Agent) { a.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

func New(baseURL string, opts ...Option) *Agent {
	a := &Agent{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: requestTimeout},
		dialer:   &websocket.Dialer{HandshakeTimeout: requestTimeout},
		logger:   zap.NewNop(),
		timeline: NewTimeline(),
		events:   make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Agent) Timeline() *Timeline { return a.timeline }

// Events yields every merged server push. Closed when the push channel
// goes away.
func (a *Agent) Events() <-chan Event { return a.events }

// ConnID is the server-assigned connection id from the connect event.
func (a *Agent) ConnID() string {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.connID
}

func (a *Agent) User() User {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.user
}

func (a *Agent) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token
}

// SetToken replaces the bearer token, e.g. one persisted from an earlier
// session.
func (a *Agent) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

type authResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

func (a *Agent) Register(ctx context.Context, username, email, password string) error {
	var resp authResponse
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/register", body, &resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	a.setSession(resp)
	return nil
}

func (a *Agent) Login(ctx context.Context, email, password string) error {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.setSession(resp)
	return nil
}

func (a *Agent) setSession(resp authResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = resp.Token
	a.user = resp.User
}

// Connect opens the push channel and waits for the connect event. A
// rejected token surfaces as *HandshakeError and no events ever arrive.
func (a *Agent) Connect(ctx context.Context) error {
	a.writeMu.Lock()
	opened := a.readDone != nil
	a.writeMu.Unlock()
	if opened {
		return ErrAlreadyConnected
	}

	u, err := url.Parse(a.baseURL + "/socket")
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if token := a.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := a.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return &HandshakeError{Status: resp.StatusCode, Msg: readMsg(resp.Body)}
		}
		return fmt.Errorf("dial push channel: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetReadDeadline(deadline)
	} else {
		_ = ws.SetReadDeadline(time.Now().Add(requestTimeout))
	}
	var hello realtime.Envelope
	if err := ws.ReadJSON(&hello); err != nil {
		_ = ws.Close()
		return fmt.Errorf("read connect event: %w", err)
	}
	if hello.Event != realtime.EventConnect {
		_ = ws.Close()
		return fmt.Errorf("expected %q event, got %q", realtime.EventConnect, hello.Event)
	}
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(hello.Data, &payload); err != nil {
		_ = ws.Close()
		return fmt.Errorf("decode connect event: %w", err)
	}
	_ = ws.SetReadDeadline(time.Time{})

	done := make(chan struct{})
	a.writeMu.Lock()
	a.ws = ws
	a.connID = payload.ID
	a.readDone = done
	a.writeMu.Unlock()

	a.logger.Info("push channel connected", zap.String("conn_id", payload.ID))
	go a.readLoop(ws, done)
	return nil
}

// Sync performs a full fetch and resets the Timeline to it.
func (a *Agent) Sync(ctx context.Context) ([]models.HydratedMessage, error) {
	var msgs []models.HydratedMessage
	if err := a.do(ctx, http.MethodGet, "/api/messages", nil, &msgs); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	a.timeline.Reset(msgs)
	return a.timeline.Snapshot(), nil
}

// Send creates a message. The optimistic placeholder is resolved from the
// REST response; the sendMessage notification follows only on success.
func (a *Agent) Send(ctx context.Context, content string) (*models.HydratedMessage, error) {
	user := a.User()
	senderID, _ := uuid.Parse(user.ID)
	tempID := uuid.NewString()
	a.timeline.AddPending(tempID, models.UserSummary{ID: senderID, Username: user.Username}, content)

	var msg models.HydratedMessage
	if err := a.do(ctx, http.MethodPost, "/api/messages", map[string]string{"content": content}, &msg); err != nil {
		a.timeline.Discard(tempID)
		return nil, fmt.Errorf("send: %w", err)
	}
	a.timeline.Resolve(tempID, msg)

	a.notify(realtime.EventSendMessage, map[string]any{"_id": msg.ID, "sender": msg.Sender.ID})
	return &msg, nil
}

// Edit replaces a message's content. The server does not echo edits back
// to this connection, so the REST result is applied locally.
func (a *Agent) Edit(ctx context.Context, id uuid.UUID, content string) (*models.HydratedMessage, error) {
	var msg models.HydratedMessage
	if err := a.do(ctx, http.MethodPatch, "/api/messages/"+id.String(), map[string]string{"content": content}, &msg); err != nil {
		return nil, fmt.Errorf("edit: %w", err)
	}
	a.timeline.ApplyEdited(msg)

	a.notify(realtime.EventEditMessage, msg)
	return &msg, nil
}

// Delete removes a message, applying the removal locally for the same
// reason as Edit.
func (a *Agent) Delete(ctx context.Context, id uuid.UUID) error {
	if err := a.do(ctx, http.MethodDelete, "/api/messages/"+id.String(), nil, nil); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	a.timeline.ApplyDeleted(id)

	a.notify(realtime.EventDeleteMessage, map[string]any{"_id": id})
	return nil
}

// Notify emits a raw change notification. Send, Edit and Delete call it
// after their REST call succeeds.
func (a *Agent) Notify(event string, payload any) error {
	env, err := realtime.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if a.ws == nil {
		return ErrNotConnected
	}
	_ = a.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := a.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// notify is Notify for the post-REST path: the mutation already
// succeeded, so a missing or broken socket is only logged.
func (a *Agent) notify(event string, payload any) {
	if err := a.Notify(event, payload); err != nil && !errors.Is(err, ErrNotConnected) {
		a.logger.Warn("change notification not sent", zap.String("event", event), zap.Error(err))
	}
}

// Close shuts the push channel and waits for the reader to stop.
func (a *Agent) Close() error {
	a.writeMu.Lock()
	ws, done := a.ws, a.readDone
	a.ws = nil
	if ws != nil {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	a.writeMu.Unlock()

	if ws == nil {
		return nil
	}
	err := ws.Close()
	<-done
	return err
}

func (a *Agent) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer func() {
		close(a.events)
		close(done)
	}()

	for {
		var env realtime.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				a.logger.Debug("push channel closed", zap.Error(err))
			}
			return
		}
		ev, ok := a.merge(env)
		if !ok {
			continue
		}
		select {
		case a.events <- ev:
		default:
			a.logger.Warn("event buffer full, dropping event", zap.String("event", ev.Name))
		}
	}
}

// merge applies one push to the Timeline.
func (a *Agent) merge(env realtime.Envelope) (Event, bool) {
	switch env.Event {
	case realtime.EventReceiveMessage, realtime.EventEditMessage:
		var msg models.HydratedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			a.logger.Warn("malformed push payload", zap.String("event", env.Event), zap.Error(err))
			return Event{}, false
		}
		if env.Event == realtime.EventReceiveMessage {
			a.timeline.ApplyCreated(msg)
		} else {
			a.timeline.ApplyEdited(msg)
		}
		return Event{Name: env.Event, Message: &msg}, true

	case realtime.EventDeleteMessage:
		var raw string
		if err := json.Unmarshal(env.Data, &raw); err != nil {
			a.logger.Warn("malformed push payload", zap.String("event", env.Event), zap.Error(err))
			return Event{}, false
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			a.logger.Warn("malformed message id", zap.String("id", raw))
			return Event{}, false
		}
		a.timeline.ApplyDeleted(id)
		return Event{Name: env.Event, ID: id}, true

	default:
		a.logger.Debug("ignoring push event", zap.String("event", env.Event))
		return Event{}, false
	}
}

func (a *Agent) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := a.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Msg: readMsg(resp.Body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readMsg pulls "msg" out of an error body, falling back to the raw text.
func readMsg(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Msg != "" {
		return body.Msg
	}
	return strings.TrimSpace(string(raw))
}
