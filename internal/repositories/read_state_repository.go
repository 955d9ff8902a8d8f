package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

// ReadStateRepository owns read cursors and unread counters.
type ReadStateRepository interface {
	// MarkThreadRead advances the user's cursor past every message in the
	// thread sent by someone else and returns how much the message-unread
	// counter actually dropped.
	MarkThreadRead(ctx context.Context, userID int, threadID int) (int, error)
	GetUnread(ctx context.Context, userID int) (models.UnreadCounter, error)
}

// ReadStateRepo is a sqlx-backed repository.
type ReadStateRepo struct {
	db *sqlx.DB
}

// NewReadStateRepo constructs ReadStateRepo.
func NewReadStateRepo(db *sqlx.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

// MarkThreadRead locks the user's counter row first so it serialises with
// concurrent sends and other mark-read calls for the same user.
func (r *ReadStateRepo) MarkThreadRead(ctx context.Context, userID int, threadID int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO unread_counters (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, err
	}
	var current int
	if err = tx.GetContext(ctx, &current, `SELECT message_unread FROM unread_counters WHERE user_id=$1 FOR UPDATE`, userID); err != nil {
		return 0, err
	}

	var cursor int64
	if err = tx.GetContext(ctx, &cursor, `SELECT COALESCE((SELECT last_read_message_id FROM read_cursors WHERE thread_id=$1 AND user_id=$2), 0)`, threadID, userID); err != nil {
		return 0, err
	}

	var pending struct {
		Count int   `db:"count"`
		MaxID int64 `db:"max_id"`
	}
	if err = tx.GetContext(ctx, &pending, `SELECT COUNT(*) AS count, COALESCE(MAX(id), 0) AS max_id FROM messages
        WHERE thread_id=$1 AND sender_id<>$2 AND id>$3`, threadID, userID, cursor); err != nil {
		return 0, err
	}
	if pending.Count == 0 {
		err = tx.Commit()
		return 0, err
	}

	if _, err = tx.ExecContext(ctx, `INSERT INTO read_cursors (thread_id, user_id, last_read_message_id, updated_at) VALUES ($1, $2, $3, NOW())
        ON CONFLICT (thread_id, user_id) DO UPDATE SET
            last_read_message_id = GREATEST(read_cursors.last_read_message_id, EXCLUDED.last_read_message_id),
            updated_at = NOW()`, threadID, userID, pending.MaxID); err != nil {
		return 0, err
	}

	decrement := pending.Count
	if decrement > current {
		decrement = current
	}
	if _, err = tx.ExecContext(ctx, `UPDATE unread_counters SET message_unread = GREATEST(message_unread - $2, 0) WHERE user_id=$1`, userID, decrement); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return decrement, nil
}

// GetUnread returns the user's counters; a user with no row has zero unread.
func (r *ReadStateRepo) GetUnread(ctx context.Context, userID int) (models.UnreadCounter, error) {
	counter := models.UnreadCounter{UserID: userID}
	err := r.db.GetContext(ctx, &counter, `SELECT user_id, message_unread, notification_unread FROM unread_counters WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UnreadCounter{UserID: userID}, nil
	}
	return counter, err
}
