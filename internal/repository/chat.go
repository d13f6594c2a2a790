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

type ChatSupportRepository struct {
	pool *pgxpool.Pool
}

func NewChatSupportRepository(pool *pgxpool.Pool) *ChatSupportRepository {
	return &ChatSupportRepository{pool: pool}
}

func (r *ChatSupportRepository) Create(ctx context.Context, c *model.ChatSupport) error {
	defer logger.DeferLogDuration("chat.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_supports (id, user_id, user_name, subject, status, assigned_to, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`,
		c.ID, c.UserID, c.UserName, c.Subject, c.Status, c.AssignedTo, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Create: %w", err)
	}
	return nil
}

func (r *ChatSupportRepository) GetByID(ctx context.Context, id string) (*model.ChatSupport, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.ChatSupport{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, user_name, COALESCE(subject,''), status, COALESCE(assigned_to,''), created_at, updated_at
		 FROM chat_supports WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserID, &c.UserName, &c.Subject, &c.Status, &c.AssignedTo, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// Exists is the cheap membership check the hub runs before letting a
// connection join a room.
func (r *ChatSupportRepository) Exists(ctx context.Context, id string) (bool, error) {
	defer logger.DeferLogDuration("chat.Exists", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_supports WHERE id = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.Exists: %w", err)
	}
	return exists, nil
}

// ApplyUpdates patches status and/or assignment. Returns ErrNotFound when the
// conversation does not exist so callers can 404 instead of silently emitting
// a chat_updated event for nothing.
func (r *ChatSupportRepository) ApplyUpdates(ctx context.Context, id string, u model.ChatUpdates, at time.Time) error {
	defer logger.DeferLogDuration("chat.ApplyUpdates", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE chat_supports SET
		   status = COALESCE($1, status),
		   assigned_to = COALESCE($2, assigned_to),
		   updated_at = $3
		 WHERE id = $4`,
		u.Status, u.AssignedTo, at, id,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.ApplyUpdates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch bumps updated_at so the ticket list sorts fresh conversations first.
func (r *ChatSupportRepository) Touch(ctx context.Context, id string, at time.Time) error {
	defer logger.DeferLogDuration("chat.Touch", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chat_supports SET updated_at = $1 WHERE id = $2`, at, id,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.Touch: %w", err)
	}
	return nil
}

// List returns the ticket list with last-message preview and unread count,
// newest activity first. This is the pull-based source of truth the realtime
// layer accelerates; clients re-request it after reconnect.
func (r *ChatSupportRepository) List(ctx context.Context, limit int) ([]model.ChatSupportListItem, error) {
	defer logger.DeferLogDuration("chat.List", time.Now())()
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.user_id, c.user_name, COALESCE(c.subject,''), c.status, COALESCE(c.assigned_to,''), c.created_at, c.updated_at,
		        m.id, m.sender_type, m.sender_name, m.body, m.is_read, m.created_at,
		        (SELECT COUNT(*) FROM messages u WHERE u.chat_support_id = c.id AND u.sender_type = 'user' AND NOT u.is_read)
		 FROM chat_supports c
		 LEFT JOIN LATERAL (
		   SELECT id, sender_type, sender_name, body, is_read, created_at
		   FROM messages WHERE chat_support_id = c.id
		   ORDER BY created_at DESC LIMIT 1
		 ) m ON true
		 ORDER BY c.updated_at DESC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.List query: %w", err)
	}
	defer rows.Close()

	items := make([]model.ChatSupportListItem, 0, limit)
	for rows.Next() {
		var it model.ChatSupportListItem
		var mID, mSenderType, mSenderName, mBody *string
		var mIsRead *bool
		var mCreatedAt *time.Time
		if err := rows.Scan(&it.Chat.ID, &it.Chat.UserID, &it.Chat.UserName, &it.Chat.Subject, &it.Chat.Status,
			&it.Chat.AssignedTo, &it.Chat.CreatedAt, &it.Chat.UpdatedAt,
			&mID, &mSenderType, &mSenderName, &mBody, &mIsRead, &mCreatedAt,
			&it.UnreadCount); err != nil {
			return nil, fmt.Errorf("chatRepo.List scan: %w", err)
		}
		if mID != nil {
			it.LastMessage = &model.Message{
				ID:            *mID,
				ChatSupportID: it.Chat.ID,
				SenderType:    model.SenderType(*mSenderType),
				SenderName:    *mSenderName,
				Body:          *mBody,
				IsRead:        *mIsRead,
				CreatedAt:     *mCreatedAt,
			}
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.List rows: %w", err)
	}
	return items, nil
}
