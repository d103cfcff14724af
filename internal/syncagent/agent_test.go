package syncagent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/api"
	"github.com/lalith-99/echoroom/internal/auth"
	"github.com/lalith-99/echoroom/internal/config"
	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/lalith-99/echoroom/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSecret   = "test-secret"
	eventTimeout = 2 * time.Second
	quietPeriod  = 200 * time.Millisecond
)

func init() {
	gin.SetMode(gin.TestMode)
}

type env struct {
	srv *httptest.Server
	hub *realtime.Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	hub := realtime.NewHub(store.Messages(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	router := api.NewRouter(api.Deps{
		Config: &config.Config{
			JWTSecret:      testSecret,
			TokenTTL:       time.Hour,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Users:    store.Users(),
		Messages: store.Messages(),
		Hub:      hub,
		Logger:   zap.NewNop(),
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		cancel()
		<-stopped
		srv.Close()
	})
	return &env{srv: srv, hub: hub}
}

// client registers a user and connects its push channel.
func (e *env) client(t *testing.T, username string) *Agent {
	t.Helper()
	ctx := context.Background()
	a := New(e.srv.URL)
	require.NoError(t, a.Register(ctx, username, username+"@example.com", "hunter22"))
	require.NoError(t, a.Connect(ctx))
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func (e *env) waitClients(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.hub.ClientCount() == n }, eventTimeout, 5*time.Millisecond)
}

func nextEvent(t *testing.T, a *Agent) Event {
	t.Helper()
	select {
	case ev, ok := <-a.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatalf("%s received no event", a.User().Username)
		return Event{}
	}
}

func expectQuiet(t *testing.T, a *Agent) {
	t.Helper()
	select {
	case ev := <-a.Events():
		t.Fatalf("%s received unexpected %s", a.User().Username, ev.Name)
	case <-time.After(quietPeriod):
	}
}

func TestScenarioCreateReachesEveryone(t *testing.T) {
	e := newEnv(t)
	client1 := e.client(t, "alice")
	client2 := e.client(t, "bob")
	e.waitClients(t, 2)

	m1, err := client1.Send(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "alice", m1.Sender.Username)

	for _, c := range []*Agent{client1, client2} {
		ev := nextEvent(t, c)
		assert.Equal(t, realtime.EventReceiveMessage, ev.Name)
		require.NotNil(t, ev.Message)
		assert.Equal(t, m1.ID, ev.Message.ID)
		assert.Equal(t, "hi", ev.Message.Content)
		expectQuiet(t, c)

		snap := c.Timeline().Snapshot()
		require.Len(t, snap, 1, "exactly one copy after placeholder and push merge")
		assert.Equal(t, m1.ID, snap[0].ID)
	}
	assert.Empty(t, client1.Timeline().Pending())
}

func TestScenarioEditSkipsEditor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client1 := e.client(t, "alice")
	client2 := e.client(t, "bob")
	e.waitClients(t, 2)

	m1, err := client1.Send(ctx, "hi")
	require.NoError(t, err)
	nextEvent(t, client1)
	nextEvent(t, client2)

	edited, err := client1.Edit(ctx, m1.ID, "hi edited")
	require.NoError(t, err)
	assert.Equal(t, "hi edited", edited.Content)

	ev := nextEvent(t, client2)
	assert.Equal(t, realtime.EventEditMessage, ev.Name)
	assert.Equal(t, "hi edited", ev.Message.Content)
	expectQuiet(t, client1)

	for _, c := range []*Agent{client1, client2} {
		snap := c.Timeline().Snapshot()
		require.Len(t, snap, 1)
		assert.Equal(t, "hi edited", snap[0].Content)
	}
}

func TestScenarioNonOwnerEditEmitsNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client1 := e.client(t, "alice")
	client2 := e.client(t, "bob")
	e.waitClients(t, 2)

	m1, err := client1.Send(ctx, "hi")
	require.NoError(t, err)
	nextEvent(t, client1)
	nextEvent(t, client2)

	_, err = client2.Edit(ctx, m1.ID, "pwned")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	err = client2.Delete(ctx, m1.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	expectQuiet(t, client1)
	expectQuiet(t, client2)
	assert.Equal(t, "hi", client2.Timeline().Snapshot()[0].Content)
}

func TestScenarioExpiredTokenIsRefused(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	fresh := New(e.srv.URL)
	require.NoError(t, fresh.Register(ctx, "alice", "alice@example.com", "hunter22"))

	claims, err := auth.ParseToken(fresh.Token(), testSecret)
	require.NoError(t, err)
	expired, err := auth.GenerateToken(claims.UserID, "alice", testSecret, -time.Minute)
	require.NoError(t, err)

	stale := New(e.srv.URL)
	stale.SetToken(expired)
	err = stale.Connect(ctx)
	var hsErr *HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, http.StatusUnauthorized, hsErr.Status)
	assert.Empty(t, stale.ConnID(), "no connect event")
	assert.Zero(t, e.hub.ClientCount())

	// REST with the fresh token is unaffected.
	_, err = fresh.Send(ctx, "still here")
	require.NoError(t, err)
	msgs, err := fresh.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = stale.Sync(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestDeleteSkipsDeleterAndIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client1 := e.client(t, "alice")
	client2 := e.client(t, "bob")
	e.waitClients(t, 2)

	m1, err := client1.Send(ctx, "hi")
	require.NoError(t, err)
	nextEvent(t, client1)
	nextEvent(t, client2)

	require.NoError(t, client1.Delete(ctx, m1.ID))

	ev := nextEvent(t, client2)
	assert.Equal(t, realtime.EventDeleteMessage, ev.Name)
	assert.Equal(t, m1.ID, ev.ID)
	expectQuiet(t, client1)

	assert.Empty(t, client1.Timeline().Snapshot())
	assert.Empty(t, client2.Timeline().Snapshot())

	// A replayed delete for an id nobody has is a no-op everywhere.
	require.NoError(t, client1.Notify(realtime.EventDeleteMessage, map[string]any{"_id": m1.ID}))
	ev = nextEvent(t, client2)
	assert.Equal(t, m1.ID, ev.ID)
	assert.Empty(t, client2.Timeline().Snapshot())
}

func TestForgedSenderIsIgnored(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	client1 := e.client(t, "alice")
	client2 := e.client(t, "bob")
	e.waitClients(t, 2)

	m1, err := client1.Send(ctx, "hi")
	require.NoError(t, err)
	nextEvent(t, client1)
	nextEvent(t, client2)

	// bob claims alice's message as his own creation.
	require.NoError(t, client2.Notify(realtime.EventSendMessage, map[string]any{
		"_id": m1.ID, "sender": m1.Sender.ID,
	}))
	expectQuiet(t, client1)
	expectQuiet(t, client2)
}

func TestSyncLoadsHistoryInOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	writer := New(e.srv.URL)
	require.NoError(t, writer.Register(ctx, "alice", "alice@example.com", "hunter22"))

	for _, c := range []string{"one", "two", "three"} {
		_, err := writer.Send(ctx, c)
		require.NoError(t, err)
	}

	reader := New(e.srv.URL)
	require.NoError(t, reader.Register(ctx, "bob", "bob@example.com", "hunter22"))
	msgs, err := reader.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, contents(msgs))
}

func TestSendFailureDiscardsPlaceholder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.client(t, "alice")

	_, err := a.Send(ctx, "   ")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Empty(t, a.Timeline().Pending())
	assert.Empty(t, a.Timeline().Snapshot())
	expectQuiet(t, a)
}

func TestConnectOnlyOnce(t *testing.T) {
	e := newEnv(t)
	a := e.client(t, "alice")
	assert.NotEmpty(t, a.ConnID())
	assert.True(t, errors.Is(a.Connect(context.Background()), ErrAlreadyConnected))
}

func TestEventsCloseWithConnection(t *testing.T) {
	e := newEnv(t)
	a := e.client(t, "alice")
	e.waitClients(t, 1)

	require.NoError(t, a.Close())
	_, open := <-a.Events()
	assert.False(t, open)

	e.waitClients(t, 0)
	assert.ErrorIs(t, a.Notify(realtime.EventDeleteMessage, map[string]any{"_id": uuid.New()}), ErrNotConnected)
}
