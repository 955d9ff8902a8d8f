// Package messaging is the delivery core: it persists messages and
// notifications, keeps unread counters, and fans the resulting events out
// to user and thread topics.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"realtime-service/internal/logger"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
	"realtime-service/internal/repositories"
)

// MaxContentLength bounds a message body in runes.
const MaxContentLength = 4000

var tracer = otel.Tracer("realtime-service/messaging")

// Pipeline is the message delivery pipeline.
type Pipeline struct {
	threads   repositories.ThreadRepository
	messages  repositories.MessageRepository
	publisher Publisher
	lanes     *lanes
	log       *logger.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(threads repositories.ThreadRepository, messages repositories.MessageRepository, publisher Publisher, log *logger.Logger) *Pipeline {
	return &Pipeline{
		threads:   threads,
		messages:  messages,
		publisher: publisher,
		lanes:     newLanes(),
		log:       log.Named("pipeline"),
	}
}

// SendMessage validates, persists and fans out one message.
//
// Persistence and fan-out for a thread happen inside that thread's lane, so
// message:new events leave this process in id order. Nothing is published
// when persistence fails.
func (p *Pipeline) SendMessage(ctx context.Context, threadID, senderID int, content string) (models.Message, error) {
	ctx, span := tracer.Start(ctx, "messaging.SendMessage", trace.WithAttributes(
		attribute.Int("thread.id", threadID),
		attribute.Int("sender.id", senderID),
	))
	defer span.End()

	msg, err := p.sendMessage(ctx, threadID, senderID, content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorCode(err))
		return models.Message{}, err
	}
	span.SetAttributes(attribute.Int64("message.id", msg.ID))
	return msg, nil
}

func (p *Pipeline) sendMessage(ctx context.Context, threadID, senderID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return models.Message{}, ErrContentTooLong
	}
	if threadID <= 0 {
		return models.Message{}, ErrInvalidThread
	}

	thread, err := p.threads.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, repositories.ErrThreadNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, persistenceError(err)
	}
	if !thread.HasParticipant(senderID) {
		return models.Message{}, ErrNotParticipant
	}

	recipients := thread.Others(senderID)
	var receiverID *int
	if len(recipients) == 1 {
		receiverID = &recipients[0]
	}
	snippet := Snippet(content)

	release, err := p.lanes.acquire(ctx, threadID)
	if err != nil {
		return models.Message{}, err
	}
	defer release()
	defer counterFence.shared(recipients...)()

	start := time.Now()
	msg, err := p.messages.CreateMessage(ctx, models.NewMessage{
		ThreadID:   threadID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Snippet:    snippet,
		Recipients: recipients,
	})
	observability.ObservePersist("create_message", start)
	if err != nil {
		p.log.Error("persist message failed", logger.Int("thread_id", threadID), logger.Int("sender_id", senderID), logger.Error(err))
		if errors.Is(err, repositories.ErrThreadNotFound) {
			return models.Message{}, err
		}
		return models.Message{}, persistenceError(err)
	}

	// fan-out must not be cut short by the caller going away
	fanCtx := context.WithoutCancel(ctx)
	publish(fanCtx, p.publisher, p.log, models.ThreadTopic(threadID), models.EventMessageNew, msg)

	upsert := models.ThreadUpsert{ThreadID: threadID, LastSnippet: snippet, LastAt: msg.CreatedAt}
	for _, userID := range thread.Participants {
		publish(fanCtx, p.publisher, p.log, models.UserTopic(userID), models.EventThreadsUpsert, upsert)
	}
	for _, userID := range recipients {
		publish(fanCtx, p.publisher, p.log, models.UserTopic(userID), models.EventBadgeUpdate, models.BadgeDelta{Delta: 1})
	}

	p.log.Debug("message delivered", logger.Int64("message_id", msg.ID), logger.Int("thread_id", threadID), logger.Int("recipients", len(recipients)))
	return msg, nil
}
