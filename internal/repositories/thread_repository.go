package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"realtime-service/internal/models"
)

var (
	ErrThreadNotFound        = errors.New("thread not found")
	ErrNotEnoughParticipants = errors.New("a thread needs at least two participants")
)

// ThreadRepository abstracts thread persistence.
type ThreadRepository interface {
	CreateThread(ctx context.Context, participantIDs []int) (models.Thread, error)
	GetThread(ctx context.Context, threadID int) (models.Thread, error)
	IsParticipant(ctx context.Context, threadID int, userID int) (bool, error)
	ListThreadsForUser(ctx context.Context, userID int) ([]models.Thread, error)
}

// ThreadRepo is a sqlx implementation of ThreadRepository.
type ThreadRepo struct {
	db *sqlx.DB
}

// NewThreadRepo constructs a ThreadRepo.
func NewThreadRepo(db *sqlx.DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

// CreateThread creates a thread and its participants atomically.
func (r *ThreadRepo) CreateThread(ctx context.Context, participantIDs []int) (models.Thread, error) {
	ids := dedupeSorted(participantIDs)
	if len(ids) < 2 {
		return models.Thread{}, ErrNotEnoughParticipants
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Thread{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var thread models.Thread
	if err = tx.QueryRowxContext(ctx, `INSERT INTO threads DEFAULT VALUES RETURNING id, last_snippet, last_at, created_at`).
		StructScan(&thread); err != nil {
		return models.Thread{}, err
	}
	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO thread_participants (thread_id, user_id) VALUES ($1, $2)`, thread.ID, id); err != nil {
			return models.Thread{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return models.Thread{}, err
	}
	thread.Participants = ids
	return thread, nil
}

// GetThread fetches a thread with its participants.
func (r *ThreadRepo) GetThread(ctx context.Context, threadID int) (models.Thread, error) {
	var thread models.Thread
	err := r.db.GetContext(ctx, &thread, `SELECT id, last_snippet, last_at, created_at FROM threads WHERE id=$1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrThreadNotFound
	}
	if err != nil {
		return models.Thread{}, err
	}
	if err := r.db.SelectContext(ctx, &thread.Participants, `SELECT user_id FROM thread_participants WHERE thread_id=$1 ORDER BY user_id`, threadID); err != nil {
		return models.Thread{}, err
	}
	return thread, nil
}

// IsParticipant checks whether a user belongs to the thread.
func (r *ThreadRepo) IsParticipant(ctx context.Context, threadID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM thread_participants WHERE thread_id=$1 AND user_id=$2)`, threadID, userID)
	return exists, err
}

// ListThreadsForUser returns the user's threads, most recently active first.
func (r *ThreadRepo) ListThreadsForUser(ctx context.Context, userID int) ([]models.Thread, error) {
	var threads []models.Thread
	err := r.db.SelectContext(ctx, &threads, `SELECT t.id, t.last_snippet, t.last_at, t.created_at FROM threads t
        INNER JOIN thread_participants p ON p.thread_id = t.id
        WHERE p.user_id=$1
        ORDER BY COALESCE(t.last_at, t.created_at) DESC, t.id DESC`, userID)
	if err != nil || len(threads) == 0 {
		return threads, err
	}

	ids := make([]int64, 0, len(threads))
	index := make(map[int]int, len(threads))
	for i, t := range threads {
		ids = append(ids, int64(t.ID))
		index[t.ID] = i
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT thread_id, user_id FROM thread_participants WHERE thread_id = ANY($1) ORDER BY user_id`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var threadID, memberID int
		if err := rows.Scan(&threadID, &memberID); err != nil {
			return nil, err
		}
		i := index[threadID]
		threads[i].Participants = append(threads[i].Participants, memberID)
	}
	return threads, rows.Err()
}

func dedupeSorted(ids []int) []int {
	set := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
