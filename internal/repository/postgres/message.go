package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/echoroom/internal/models"
)

type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

// hydratedSelect joins the sender's username onto each message row.
const hydratedSelect = `
	SELECT m.id, m.sender_id, u.username, m.content, m.created_at, m.updated_at
	FROM messages m
	JOIN users u ON u.id = m.sender_id`

// Create inserts a message and returns it hydrated in one round trip:
// the CTE inserts, the outer SELECT joins the sender.
func (s *MessageStore) Create(ctx context.Context, senderID uuid.UUID, content string) (*models.HydratedMessage, error) {
	query := `
		WITH m AS (
			INSERT INTO messages (sender_id, content, created_at, updated_at)
			VALUES ($1, $2, now(), now())
			RETURNING id, sender_id, content, created_at, updated_at
		)
		SELECT m.id, m.sender_id, u.username, m.content, m.created_at, m.updated_at
		FROM m
		JOIN users u ON u.id = m.sender_id`

	msg, err := scanHydrated(s.pool.QueryRow(ctx, query, senderID, content))
	if err != nil {
		return nil, wrapErr("insert message", err)
	}
	return msg, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	query := `
		SELECT id, sender_id, content, created_at, updated_at
		FROM messages
		WHERE id = $1`

	var msg models.Message
	err := s.pool.QueryRow(ctx, query, messageID).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.Content,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get message", err)
	}
	return &msg, nil
}

func (s *MessageStore) GetHydrated(ctx context.Context, messageID uuid.UUID) (*models.HydratedMessage, error) {
	query := hydratedSelect + ` WHERE m.id = $1`

	msg, err := scanHydrated(s.pool.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get hydrated message", err)
	}
	return msg, nil
}

// ListHydrated returns the whole room log, oldest first. id breaks ties
// between rows created in the same microsecond.
func (s *MessageStore) ListHydrated(ctx context.Context) ([]models.HydratedMessage, error) {
	query := hydratedSelect + ` ORDER BY m.created_at ASC, m.id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, wrapErr("list messages", err)
	}
	defer rows.Close()

	messages := make([]models.HydratedMessage, 0)
	for rows.Next() {
		msg, err := scanHydrated(rows)
		if err != nil {
			return nil, wrapErr("scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate messages", err)
	}

	return messages, nil
}

// UpdateContent rewrites content only. sender_id is not in the SET list,
// so ownership can never change through an edit.
func (s *MessageStore) UpdateContent(ctx context.Context, messageID uuid.UUID, content string) (*models.HydratedMessage, error) {
	query := `
		WITH m AS (
			UPDATE messages
			SET content = $2, updated_at = now()
			WHERE id = $1
			RETURNING id, sender_id, content, created_at, updated_at
		)
		SELECT m.id, m.sender_id, u.username, m.content, m.created_at, m.updated_at
		FROM m
		JOIN users u ON u.id = m.sender_id`

	msg, err := scanHydrated(s.pool.QueryRow(ctx, query, messageID, content))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("update message", err)
	}
	return msg, nil
}

func (s *MessageStore) Delete(ctx context.Context, messageID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID)
	if err != nil {
		return false, wrapErr("delete message", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanHydrated(row pgx.Row) (*models.HydratedMessage, error) {
	var msg models.HydratedMessage
	err := row.Scan(
		&msg.ID,
		&msg.Sender.ID,
		&msg.Sender.Username,
		&msg.Content,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
