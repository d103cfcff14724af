// Package service holds the REST gateway's message use cases: content
// validation and ownership enforcement in front of the message store.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/echoroom/internal/apperr"
	"github.com/lalith-99/echoroom/internal/models"
	"github.com/lalith-99/echoroom/internal/repository"
	"go.uber.org/zap"
)

type MessageService struct {
	repo   repository.MessageRepository
	logger *zap.Logger
}

func NewMessageService(repo repository.MessageRepository, logger *zap.Logger) *MessageService {
	return &MessageService{repo: repo, logger: logger}
}

// List returns the full room log, oldest first.
func (s *MessageService) List(ctx context.Context) ([]models.HydratedMessage, error) {
	messages, err := s.repo.ListHydrated(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Create validates content and persists a message owned by senderID.
func (s *MessageService) Create(ctx context.Context, senderID uuid.UUID, content string) (*models.HydratedMessage, error) {
	content, err := models.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	msg, err := s.repo.Create(ctx, senderID, content)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

// Edit replaces the content of a message the requester owns.
func (s *MessageService) Edit(ctx context.Context, requesterID, messageID uuid.UUID, content string) (*models.HydratedMessage, error) {
	content, err := models.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	if err := s.authorize(ctx, requesterID, messageID); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	msg, err := s.repo.UpdateContent(ctx, messageID, content)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	// Deleted between the ownership check and the update.
	if msg == nil {
		return nil, fmt.Errorf("edit message %s: %w", messageID, apperr.ErrNotFound)
	}
	return msg, nil
}

// Delete removes a message the requester owns.
func (s *MessageService) Delete(ctx context.Context, requesterID, messageID uuid.UUID) error {
	if err := s.authorize(ctx, requesterID, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	deleted, err := s.repo.Delete(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if !deleted {
		return fmt.Errorf("delete message %s: %w", messageID, apperr.ErrNotFound)
	}
	return nil
}

// authorize loads the raw row and checks that requesterID is its sender.
func (s *MessageService) authorize(ctx context.Context, requesterID, messageID uuid.UUID) error {
	msg, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %s: %w", messageID, apperr.ErrNotFound)
	}
	if msg.SenderID != requesterID {
		s.logger.Warn("rejected mutation by non-owner",
			zap.String("message_id", messageID.String()),
			zap.String("requester_id", requesterID.String()),
		)
		return fmt.Errorf("message %s: %w", messageID, apperr.ErrForbidden)
	}
	return nil
}
