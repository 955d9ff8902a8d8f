package messaging

import (
	"context"
	"errors"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

// Threads answers membership questions and exposes thread listing.
type Threads struct {
	repo repositories.ThreadRepository
}

func NewThreads(repo repositories.ThreadRepository) *Threads {
	return &Threads{repo: repo}
}

// CheckParticipant returns nil when userID may join threadID.
func (t *Threads) CheckParticipant(ctx context.Context, userID, threadID int) error {
	if threadID <= 0 {
		return ErrInvalidThread
	}
	member, err := t.repo.IsParticipant(ctx, threadID, userID)
	if err != nil {
		return persistenceError(err)
	}
	if !member {
		return ErrNotParticipant
	}
	return nil
}

// Create opens a thread between creatorID and the given participants.
func (t *Threads) Create(ctx context.Context, creatorID int, participantIDs []int) (models.Thread, error) {
	ids := append([]int{creatorID}, participantIDs...)
	for _, id := range ids {
		if id <= 0 {
			return models.Thread{}, ErrInvalidPayload
		}
	}
	thread, err := t.repo.CreateThread(ctx, ids)
	if err != nil {
		if errors.Is(err, repositories.ErrNotEnoughParticipants) {
			return models.Thread{}, err
		}
		return models.Thread{}, persistenceError(err)
	}
	return thread, nil
}

// ListForUser returns the user's inbox, most recent activity first.
func (t *Threads) ListForUser(ctx context.Context, userID int) ([]models.Thread, error) {
	threads, err := t.repo.ListThreadsForUser(ctx, userID)
	if err != nil {
		return nil, persistenceError(err)
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	return threads, nil
}
