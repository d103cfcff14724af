package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/models"
)

// Every method takes context.Context first: each one does I/O, and the
// caller's deadline or cancellation must reach the store.
//
// Lookups return nil, nil when the record does not exist. Callers decide
// whether absence is an error (REST: 404) or a silent no-op (push path).

// UserRepository is the credential store. Username and email are unique;
// violating either returns an error wrapping apperr.ErrConflict.
type UserRepository interface {
	// Create inserts a user and returns it with ID and CreatedAt populated.
	Create(ctx context.Context, username, email, passwordHash string) (*models.User, error)

	// GetByID returns a user by ID. Returns nil, nil if not found.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail looks up a user for login. Returns nil, nil if not found.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// MessageRepository is the message store: the sole source of truth for
// the room's message log.
type MessageRepository interface {
	// Create persists a message and returns it hydrated with the sender.
	Create(ctx context.Context, senderID uuid.UUID, content string) (*models.HydratedMessage, error)

	// GetByID returns the raw row, used for ownership checks.
	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// GetHydrated returns the message joined with its sender's username.
	GetHydrated(ctx context.Context, messageID uuid.UUID) (*models.HydratedMessage, error)

	// ListHydrated returns every message, oldest first.
	// Returns empty slice (not nil) so JSON serializes to [] not null.
	ListHydrated(ctx context.Context) ([]models.HydratedMessage, error)

	// UpdateContent replaces the content and bumps UpdatedAt. The sender
	// is never touched. Returns nil, nil if the message is gone.
	UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*models.HydratedMessage, error)

	// Delete removes a message. Returns false if nothing was deleted.
	Delete(ctx context.Context, messageID uuid.UUID) (bool, error)
}
