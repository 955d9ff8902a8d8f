package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"realtime-service/internal/models"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository defines interactions for notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n models.NewNotification) (models.Notification, error)
	ListNotifications(ctx context.Context, userID int, offset, limit int) ([]models.Notification, error)
	// MarkNotificationRead reports whether the notification moved from unread
	// to read and how much the notification-unread counter actually dropped.
	MarkNotificationRead(ctx context.Context, userID int, notificationID int64) (changed bool, decrement int, err error)
	// MarkAllNotificationsRead returns the number of notifications flipped and
	// the applied counter decrement.
	MarkAllNotificationsRead(ctx context.Context, userID int) (changed int, decrement int, err error)
}

// NotificationRepo is a sqlx-backed repository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// CreateNotification stores a notification and bumps the owner's counter.
func (r *NotificationRepo) CreateNotification(ctx context.Context, in models.NewNotification) (models.Notification, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Notification{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var n models.Notification
	if err = tx.QueryRowxContext(ctx, `INSERT INTO notifications (user_id, type, title, body, action_url) VALUES ($1, $2, $3, $4, $5)
        RETURNING id, user_id, type, title, body, action_url, read, created_at`, in.UserID, string(in.Type), in.Title, in.Body, in.ActionURL).
		StructScan(&n); err != nil {
		return models.Notification{}, err
	}
	if _, err = tx.ExecContext(ctx, `INSERT INTO unread_counters (user_id, notification_unread) VALUES ($1, 1)
        ON CONFLICT (user_id) DO UPDATE SET notification_unread = unread_counters.notification_unread + 1`, in.UserID); err != nil {
		return models.Notification{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Notification{}, err
	}
	return n, nil
}

// ListNotifications returns the user's notifications, newest first.
func (r *NotificationRepo) ListNotifications(ctx context.Context, userID int, offset, limit int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.SelectContext(ctx, &list, `SELECT id, user_id, type, title, body, action_url, read, created_at FROM notifications
        WHERE user_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
	return list, err
}

// MarkNotificationRead flips one notification to read. The counter row is
// locked first, as in MarkThreadRead.
func (r *NotificationRepo) MarkNotificationRead(ctx context.Context, userID int, notificationID int64) (bool, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	current, err := lockNotificationCounter(ctx, tx, userID)
	if err != nil {
		return false, 0, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id=$1 AND user_id=$2 AND read = FALSE`, notificationID, userID)
	if err != nil {
		return false, 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	if count == 0 {
		var exists bool
		if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM notifications WHERE id=$1 AND user_id=$2)`, notificationID, userID); err != nil {
			return false, 0, err
		}
		if !exists {
			err = ErrNotificationNotFound
			return false, 0, err
		}
		err = tx.Commit()
		return false, 0, err
	}

	decrement := min(1, current)
	if decrement > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE unread_counters SET notification_unread = notification_unread - $2 WHERE user_id=$1`, userID, decrement); err != nil {
			return false, 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, decrement, nil
}

// MarkAllNotificationsRead flips every unread notification of the user.
func (r *NotificationRepo) MarkAllNotificationsRead(ctx context.Context, userID int) (int, int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	current, err := lockNotificationCounter(ctx, tx, userID)
	if err != nil {
		return 0, 0, err
	}

	res, err := tx.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE user_id=$1 AND read = FALSE`, userID)
	if err != nil {
		return 0, 0, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	decrement := min(int(count), current)
	if decrement > 0 {
		if _, err = tx.ExecContext(ctx, `UPDATE unread_counters SET notification_unread = notification_unread - $2 WHERE user_id=$1`, userID, decrement); err != nil {
			return 0, 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, 0, err
	}
	return int(count), decrement, nil
}

// lockNotificationCounter returns the user's notification-unread counter with
// its row locked for the rest of tx.
func lockNotificationCounter(ctx context.Context, tx *sqlx.Tx, userID int) (int, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO unread_counters (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return 0, err
	}
	var current int
	err := tx.GetContext(ctx, &current, `SELECT notification_unread FROM unread_counters WHERE user_id=$1 FOR UPDATE`, userID)
	return current, err
}

var (
	_ ThreadRepository       = (*ThreadRepo)(nil)
	_ MessageRepository      = (*MessageRepo)(nil)
	_ ReadStateRepository    = (*ReadStateRepo)(nil)
	_ NotificationRepository = (*NotificationRepo)(nil)
)
