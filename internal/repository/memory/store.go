// Package memory is an in-process implementation of the repository
// interfaces. It backs DATABASE_URL=memory:// for local development and the
// end-to-end tests; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/apperr"
	"github.com/lalith-99/echoroom/internal/models"
)

// Store holds users and messages behind a single RWMutex. One lock for
// both tables keeps hydration (message + sender) consistent.
type Store struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]*models.User
	byEmail  map[string]uuid.UUID
	byName   map[string]uuid.UUID
	messages map[uuid.UUID]*models.Message

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:    make(map[uuid.UUID]*models.User),
		byEmail:  make(map[string]uuid.UUID),
		byName:   make(map[string]uuid.UUID),
		messages: make(map[uuid.UUID]*models.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Users returns the store as a repository.UserRepository.
func (s *Store) Users() *UserStore { return &UserStore{s: s} }

// Messages returns the store as a repository.MessageRepository.
func (s *Store) Messages() *MessageStore { return &MessageStore{s: s} }

type UserStore struct{ s *Store }

func (u *UserStore) Create(_ context.Context, username, email, passwordHash string) (*models.User, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[username]; taken {
		return nil, fmt.Errorf("insert user: username: %w", apperr.ErrConflict)
	}
	if _, taken := s.byEmail[email]; taken {
		return nil, fmt.Errorf("insert user: email: %w", apperr.ErrConflict)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	}
	s.users[user.ID] = user
	s.byName[username] = user.ID
	s.byEmail[email] = user.ID

	cp := *user
	return &cp, nil
}

func (u *UserStore) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (u *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u.s.mu.RLock()
	id, ok := u.s.byEmail[email]
	u.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return u.GetByID(ctx, id)
}

type MessageStore struct{ s *Store }

func (m *MessageStore) Create(_ context.Context, senderID uuid.UUID, content string) (*models.HydratedMessage, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same guarantee as the messages.sender_id foreign key.
	if _, ok := s.users[senderID]; !ok {
		return nil, fmt.Errorf("insert message: unknown sender %s: %w", senderID, apperr.ErrInvalid)
	}

	now := s.now()
	msg := &models.Message{
		ID:        uuid.New(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages[msg.ID] = msg
	return s.hydrate(msg), nil
}

func (m *MessageStore) GetByID(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	cp := *msg
	return &cp, nil
}

func (m *MessageStore) GetHydrated(_ context.Context, messageID uuid.UUID) (*models.HydratedMessage, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	return s.hydrate(msg), nil
}

func (m *MessageStore) ListHydrated(_ context.Context) ([]models.HydratedMessage, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.HydratedMessage, 0, len(s.messages))
	for _, msg := range s.messages {
		out = append(out, *s.hydrate(msg))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *MessageStore) UpdateContent(_ context.Context, messageID uuid.UUID, content string) (*models.HydratedMessage, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	msg.Content = content
	msg.UpdatedAt = s.now()
	return s.hydrate(msg), nil
}

func (m *MessageStore) Delete(_ context.Context, messageID uuid.UUID) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[messageID]; !ok {
		return false, nil
	}
	delete(s.messages, messageID)
	return true, nil
}

// hydrate must be called with s.mu held.
func (s *Store) hydrate(msg *models.Message) *models.HydratedMessage {
	out := &models.HydratedMessage{
		ID:        msg.ID,
		Sender:    models.UserSummary{ID: msg.SenderID},
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
	if user, ok := s.users[msg.SenderID]; ok {
		out.Sender.Username = user.Username
	}
	return out
}
