//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lalith-99/echoroom/internal/apperr"
	"github.com/lalith-99/echoroom/internal/db"
	"github.com/lalith-99/echoroom/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

var (
	_ repository.UserRepository    = (*UserStore)(nil)
	_ repository.MessageRepository = (*MessageStore)(nil)
)

func setupDatabase(t *testing.T) *db.DB {
	t.Helper()

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "echoroom",
			"POSTGRES_PASSWORD": "echoroom",
			"POSTGRES_DB":       "echoroom",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://echoroom:echoroom@%s:%s/echoroom?sslmode=disable", host, port.Port())
	database, err := db.New(ctx, url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(database.Close)

	require.NoError(t, database.Migrate(ctx))
	// Second run must be a no-op.
	require.NoError(t, database.Migrate(ctx))
	return database
}

func TestPostgresStores(t *testing.T) {
	database := setupDatabase(t)
	ctx := context.Background()
	users := NewUserStore(database.Pool())
	messages := NewMessageStore(database.Pool())

	alice, err := users.Create(ctx, "alice", "alice@example.com", "hash")
	require.NoError(t, err)
	bob, err := users.Create(ctx, "bob", "bob@example.com", "hash")
	require.NoError(t, err)

	_, err = users.Create(ctx, "alice", "alice2@example.com", "hash")
	require.ErrorIs(t, err, apperr.ErrConflict)
	_, err = users.Create(ctx, "alice2", "alice@example.com", "hash")
	require.ErrorIs(t, err, apperr.ErrConflict)

	found, err := users.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, bob.ID, found.ID)
	assert.Equal(t, "hash", found.PasswordHash)

	m1, err := messages.Create(ctx, alice.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, "alice", m1.Sender.Username)
	m2, err := messages.Create(ctx, bob.ID, "hey")
	require.NoError(t, err)

	raw, err := messages.GetByID(ctx, m1.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, raw.SenderID)

	edited, err := messages.UpdateContent(ctx, m1.ID, "hi edited")
	require.NoError(t, err)
	assert.Equal(t, "hi edited", edited.Content)
	assert.Equal(t, alice.ID, edited.Sender.ID)
	assert.False(t, edited.UpdatedAt.Before(edited.CreatedAt))

	list, err := messages.ListHydrated(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m1.ID, list[0].ID)
	assert.Equal(t, m2.ID, list[1].ID)

	ok, err := messages.Delete(ctx, m1.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = messages.Delete(ctx, m1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	gone, err := messages.GetHydrated(ctx, m1.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	missing, err := messages.UpdateContent(ctx, m1.ID, "late")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
