package messaging

import (
	"context"
	"errors"
	"fmt"
	"math"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

// Backfill serves history pages. Page 1 is the newest limit messages; each
// page is ordered oldest to newest.
type Backfill struct {
	threads      repositories.ThreadRepository
	messages     repositories.MessageRepository
	defaultLimit int
	maxLimit     int
}

func NewBackfill(threads repositories.ThreadRepository, messages repositories.MessageRepository, defaultLimit, maxLimit int) *Backfill {
	return &Backfill{threads: threads, messages: messages, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Load returns one page of the thread's history for userID.
func (b *Backfill) Load(ctx context.Context, userID, threadID, page, limit int) (models.ConvoData, error) {
	ctx, span := tracer.Start(ctx, "messaging.Backfill")
	defer span.End()

	if threadID <= 0 {
		return models.ConvoData{}, ErrInvalidThread
	}
	member, err := b.threads.IsParticipant(ctx, threadID, userID)
	if err != nil {
		return models.ConvoData{}, persistenceError(err)
	}
	if !member {
		return models.ConvoData{}, ErrNotParticipant
	}

	page, limit = b.clamp(page, limit)
	offset, err := pageOffset(page, limit)
	if err != nil {
		return models.ConvoData{}, err
	}
	total, err := b.messages.CountMessages(ctx, threadID)
	if err != nil {
		return models.ConvoData{}, persistenceError(err)
	}
	msgs, err := b.messages.ListMessages(ctx, threadID, offset, limit)
	if err != nil {
		if errors.Is(err, repositories.ErrThreadNotFound) {
			return models.ConvoData{}, err
		}
		return models.ConvoData{}, persistenceError(err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return models.ConvoData{ThreadID: threadID, Messages: msgs, Total: total}, nil
}

func (b *Backfill) clamp(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = b.defaultLimit
	}
	if limit > b.maxLimit {
		limit = b.maxLimit
	}
	return page, limit
}

// pageOffset returns the row offset of a clamped page. Pages whose offset
// does not fit in an int are rejected.
func pageOffset(page, limit int) (int, error) {
	if limit <= 0 || page <= 1 {
		return 0, nil
	}
	if page-1 > math.MaxInt/limit {
		return 0, fmt.Errorf("%w: page %d out of range", ErrInvalidPayload, page)
	}
	return (page - 1) * limit, nil
}
