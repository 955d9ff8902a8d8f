package messaging

import (
	"context"
	"errors"
	"strings"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

// Notifications stores notifications and pushes them to their owner.
type Notifications struct {
	repo      repositories.NotificationRepository
	publisher Publisher
	log       *logger.Logger
}

func NewNotifications(repo repositories.NotificationRepository, publisher Publisher, log *logger.Logger) *Notifications {
	return &Notifications{repo: repo, publisher: publisher, log: log.Named("notifications")}
}

// Create persists a notification, bumps the owner's notification counter and
// publishes notification:new and notifications:badge {+1}. Unrecognised types
// are stored as unknown.
func (n *Notifications) Create(ctx context.Context, in models.NewNotification) (models.Notification, error) {
	ctx, span := tracer.Start(ctx, "messaging.CreateNotification")
	defer span.End()

	in.Title = strings.TrimSpace(in.Title)
	if in.UserID <= 0 || in.Title == "" {
		return models.Notification{}, ErrInvalidPayload
	}
	in.Type = models.ParseNotificationType(string(in.Type))

	defer counterFence.shared(in.UserID)()
	created, err := n.repo.CreateNotification(ctx, in)
	if err != nil {
		span.RecordError(err)
		n.log.Error("create notification failed", logger.Int("user_id", in.UserID), logger.Error(err))
		return models.Notification{}, persistenceError(err)
	}

	ctx = context.WithoutCancel(ctx)
	topic := models.UserTopic(in.UserID)
	publish(ctx, n.publisher, n.log, topic, models.EventNotificationNew, created)
	publish(ctx, n.publisher, n.log, topic, models.EventNotificationsBadge, models.BadgeDelta{Delta: 1})
	return created, nil
}

// List returns a page of the user's notifications, newest first.
func (n *Notifications) List(ctx context.Context, userID, page, limit int) ([]models.Notification, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, err := pageOffset(page, limit)
	if err != nil {
		return nil, err
	}
	list, err := n.repo.ListNotifications(ctx, userID, offset, limit)
	if err != nil {
		return nil, persistenceError(err)
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

// MarkRead marks one notification read. Reading an already read
// notification is a no-op and publishes nothing. The badge delta is the
// decrement the store applied, which is zero when the counter already sat at 0.
func (n *Notifications) MarkRead(ctx context.Context, userID int, notificationID int64) (bool, error) {
	defer counterFence.shared(userID)()
	changed, decrement, err := n.repo.MarkNotificationRead(ctx, userID, notificationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotificationNotFound) {
			return false, err
		}
		return false, persistenceError(err)
	}
	if decrement > 0 {
		publish(context.WithoutCancel(ctx), n.publisher, n.log, models.UserTopic(userID), models.EventNotificationsBadge, models.BadgeDelta{Delta: -decrement})
	}
	return changed, nil
}

// MarkAllRead marks every notification of the user read.
func (n *Notifications) MarkAllRead(ctx context.Context, userID int) (int, error) {
	defer counterFence.shared(userID)()
	count, decrement, err := n.repo.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return 0, persistenceError(err)
	}
	if decrement > 0 {
		publish(context.WithoutCancel(ctx), n.publisher, n.log, models.UserTopic(userID), models.EventNotificationsBadge, models.BadgeDelta{Delta: -decrement})
	}
	return count, nil
}
