package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/apperr"
)

// MaxContentLength is the upper bound on message content, counted in
// characters after trimming.
const MaxContentLength = 500

// User is a registered chat participant.
//
// PasswordHash never leaves the server: the json:"-" tag keeps it out of
// every response, even if a handler returns the struct directly.
type User struct {
	ID           uuid.UUID `json:"_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserSummary is the slice of a user joined into a hydrated message.
type UserSummary struct {
	ID       uuid.UUID `json:"_id"`
	Username string    `json:"username"`
}

// Message mirrors the messages table. SenderID is set once on insert and
// never updated.
type Message struct {
	ID        uuid.UUID `json:"_id"`
	SenderID  uuid.UUID `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HydratedMessage is a message with its sender's display data joined in.
// This is the only message shape that goes over the wire, both REST and push.
type HydratedMessage struct {
	ID        uuid.UUID   `json:"_id"`
	Sender    UserSummary `json:"sender"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// NormalizeContent trims surrounding whitespace and enforces the content
// rules. The returned string is what gets persisted.
func NormalizeContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("content is required: %w", apperr.ErrInvalid)
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", fmt.Errorf("content cannot exceed %d characters: %w", MaxContentLength, apperr.ErrInvalid)
	}
	return trimmed, nil
}
