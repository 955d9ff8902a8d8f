package messaging

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

// Counters is the unread/badge counter engine. The arithmetic itself is
// done atomically by the store; Counters decides what to publish.
type Counters struct {
	threads   repositories.ThreadRepository
	reads     repositories.ReadStateRepository
	publisher Publisher
	log       *logger.Logger
}

func NewCounters(threads repositories.ThreadRepository, reads repositories.ReadStateRepository, publisher Publisher, log *logger.Logger) *Counters {
	return &Counters{threads: threads, reads: reads, publisher: publisher, log: log.Named("counters")}
}

// MarkThreadRead moves the user's read cursor to the end of the thread and
// returns how many unread messages that cleared. threads:read and a
// negative badge:update are published only when that number is positive.
func (c *Counters) MarkThreadRead(ctx context.Context, userID, threadID int) (int, error) {
	ctx, span := tracer.Start(ctx, "messaging.MarkThreadRead", trace.WithAttributes(
		attribute.Int("thread.id", threadID),
		attribute.Int("user.id", userID),
	))
	defer span.End()

	if threadID <= 0 {
		return 0, ErrInvalidThread
	}
	member, err := c.threads.IsParticipant(ctx, threadID, userID)
	if err != nil {
		return 0, persistenceError(err)
	}
	if !member {
		return 0, ErrNotParticipant
	}

	defer counterFence.shared(userID)()

	start := time.Now()
	n, err := c.reads.MarkThreadRead(ctx, userID, threadID)
	observability.ObservePersist("mark_thread_read", start)
	if err != nil {
		span.RecordError(err)
		c.log.Error("mark thread read failed", logger.Int("thread_id", threadID), logger.Int("user_id", userID), logger.Error(err))
		return 0, persistenceError(err)
	}
	span.SetAttributes(attribute.Int("decrement", n))
	if n <= 0 {
		return 0, nil
	}

	ctx = context.WithoutCancel(ctx)
	topic := models.UserTopic(userID)
	publish(ctx, c.publisher, c.log, topic, models.EventThreadsRead, models.ThreadRef{ThreadID: threadID})
	publish(ctx, c.publisher, c.log, topic, models.EventBadgeUpdate, models.BadgeDelta{Delta: -n})
	return n, nil
}

// SyncUnread reads the user's counters and hands them to deliver while no
// counter change for the user is between commit and publish. deliver must
// not block.
func (c *Counters) SyncUnread(ctx context.Context, userID int, deliver func(models.UnreadCounter)) error {
	defer counterFence.exclusive(userID)()

	counter, err := c.Unread(ctx, userID)
	if err != nil {
		return err
	}
	deliver(counter)
	return nil
}

// Unread returns the user's current counters.
func (c *Counters) Unread(ctx context.Context, userID int) (models.UnreadCounter, error) {
	counter, err := c.reads.GetUnread(ctx, userID)
	if err != nil {
		return models.UnreadCounter{}, persistenceError(err)
	}
	return counter, nil
}
