//go:build integration

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/lalith-99/echoroom/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err, "start redis")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRelayBetweenNodes(t *testing.T) {
	url := startRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, url, "node-a", zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, url, "node-b", zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	atA := make(chan realtime.Broadcast, 4)
	atB := make(chan realtime.Broadcast, 4)
	go func() { _ = a.Run(ctx, func(m realtime.Broadcast) { atA <- m }) }()
	go func() { _ = b.Run(ctx, func(m realtime.Broadcast) { atB <- m }) }()

	data, _ := json.Marshal("m1")
	msg := realtime.Broadcast{Node: "node-a", Event: realtime.EventDeleteMessage, Data: data, Exclude: "c1"}

	// Subscriptions settle asynchronously; retry until node b sees one.
	require.Eventually(t, func() bool {
		require.NoError(t, a.Publish(ctx, msg))
		select {
		case got := <-atB:
			assert.Equal(t, "c1", got.Exclude)
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 10*time.Second, 200*time.Millisecond)

	select {
	case got := <-atA:
		t.Fatalf("node a received its own broadcast: %+v", got)
	case <-time.After(200 * time.Millisecond):
	}
}
