package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/opsdesk/internal/logger"
	"github.com/opsdesk/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, chat_support_id, sender_type, sender_name, sender_id, body, is_read, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		m.ID, m.ChatSupportID, m.SenderType, m.SenderName, m.SenderID, m.Body, m.IsRead, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, chat_support_id, sender_type, sender_name, COALESCE(sender_id,''), body, is_read, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.ChatSupportID, &m.SenderType, &m.SenderName, &m.SenderID, &m.Body, &m.IsRead, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// GetChatMessages returns the transcript in ascending creation order — the
// order clients render and the order the hub broadcast preserved. Used for
// the fetch-then-resync recovery after reconnect.
func (r *MessageRepository) GetChatMessages(ctx context.Context, chatSupportID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.GetChatMessages", time.Now())()
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, chat_support_id, sender_type, sender_name, COALESCE(sender_id,''), body, is_read, created_at
		 FROM (
		   SELECT * FROM messages WHERE chat_support_id = $1
		   ORDER BY created_at DESC LIMIT $2
		 ) last
		 ORDER BY created_at ASC`, chatSupportID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ChatSupportID, &m.SenderType, &m.SenderName, &m.SenderID, &m.Body, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.GetChatMessages scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.GetChatMessages rows: %w", err)
	}
	return messages, nil
}

// MarkAsRead marks all user-sent messages in a conversation as read by the
// admin team (read state is per conversation, not per admin).
func (r *MessageRepository) MarkAsRead(ctx context.Context, chatSupportID string) error {
	defer logger.DeferLogDuration("msg.MarkAsRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true
		 WHERE chat_support_id = $1 AND sender_type = 'user' AND NOT is_read`,
		chatSupportID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.MarkAsRead: %w", err)
	}
	return nil
}
