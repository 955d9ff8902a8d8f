package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

// MessageRepository defines interactions for thread messages.
type MessageRepository interface {
	// CreateMessage stores the message, refreshes the thread preview and
	// increments the unread counter of every recipient in one transaction.
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	// ListMessages returns up to limit messages ending offset messages before
	// the newest one, ordered oldest to newest.
	ListMessages(ctx context.Context, threadID int, offset, limit int) ([]models.Message, error)
	CountMessages(ctx context.Context, threadID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage holds the thread row lock for the whole transaction so ids
// are assigned in commit order within a thread.
func (r *MessageRepo) CreateMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var locked int
	if err = tx.GetContext(ctx, &locked, `SELECT id FROM threads WHERE id=$1 FOR UPDATE`, in.ThreadID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrThreadNotFound
		}
		return models.Message{}, err
	}

	var msg models.Message
	if err = tx.QueryRowxContext(ctx, `INSERT INTO messages (thread_id, sender_id, receiver_id, content) VALUES ($1, $2, $3, $4)
        RETURNING id, thread_id, sender_id, receiver_id, content, created_at`, in.ThreadID, in.SenderID, in.ReceiverID, in.Content).
		StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE threads SET last_snippet=$2, last_at=$3 WHERE id=$1`, in.ThreadID, in.Snippet, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	// fixed lock order across concurrent sends
	recipients := append([]int(nil), in.Recipients...)
	sort.Ints(recipients)
	for _, userID := range recipients {
		if _, err = tx.ExecContext(ctx, `INSERT INTO unread_counters (user_id, message_unread) VALUES ($1, 1)
            ON CONFLICT (user_id) DO UPDATE SET message_unread = unread_counters.message_unread + 1`, userID); err != nil {
			return models.Message{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages pages backwards from the newest message.
func (r *MessageRepo) ListMessages(ctx context.Context, threadID int, offset, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, thread_id, sender_id, receiver_id, content, created_at FROM (
            SELECT id, thread_id, sender_id, receiver_id, content, created_at FROM messages
            WHERE thread_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3
        ) page ORDER BY id ASC`, threadID, limit, offset)
	return msgs, err
}

// CountMessages returns the number of messages in a thread.
func (r *MessageRepo) CountMessages(ctx context.Context, threadID int) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages WHERE thread_id=$1`, threadID)
	return total, err
}
