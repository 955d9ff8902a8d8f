// Package memory is an in-process store satisfying the repository
// interfaces with the same atomicity as the Postgres implementation. Every
// operation runs under one mutex, which stands in for the row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

type cursorKey struct {
	threadID int
	userID   int
}

// Store keeps threads, messages, cursors, counters and notifications in maps.
type Store struct {
	mu sync.Mutex

	now func() time.Time

	nextThreadID       int
	nextMessageID      int64
	nextNotificationID int64

	threads       map[int]*models.Thread
	messages      map[int][]models.Message
	cursors       map[cursorKey]int64
	counters      map[int]*models.UnreadCounter
	notifications map[int][]models.Notification
}

// New returns an empty store.
func New() *Store {
	return &Store{
		now:           func() time.Time { return time.Now().UTC() },
		threads:       make(map[int]*models.Thread),
		messages:      make(map[int][]models.Message),
		cursors:       make(map[cursorKey]int64),
		counters:      make(map[int]*models.UnreadCounter),
		notifications: make(map[int][]models.Notification),
	}
}

var (
	_ repositories.ThreadRepository       = (*Store)(nil)
	_ repositories.MessageRepository      = (*Store)(nil)
	_ repositories.ReadStateRepository    = (*Store)(nil)
	_ repositories.NotificationRepository = (*Store)(nil)
)

func (s *Store) CreateThread(_ context.Context, participantIDs []int) (models.Thread, error) {
	set := make(map[int]struct{}, len(participantIDs))
	ids := make([]int, 0, len(participantIDs))
	for _, id := range participantIDs {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return models.Thread{}, repositories.ErrNotEnoughParticipants
	}
	sort.Ints(ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextThreadID++
	t := &models.Thread{ID: s.nextThreadID, CreatedAt: s.now(), Participants: ids}
	s.threads[t.ID] = t
	return copyThread(t), nil
}

func (s *Store) GetThread(_ context.Context, threadID int) (models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return models.Thread{}, repositories.ErrThreadNotFound
	}
	return copyThread(t), nil
}

func (s *Store) IsParticipant(_ context.Context, threadID int, userID int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	return ok && t.HasParticipant(userID), nil
}

func (s *Store) ListThreadsForUser(_ context.Context, userID int) ([]models.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Thread
	for _, t := range s.threads {
		if t.HasParticipant(userID) {
			out = append(out, copyThread(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if ai.Equal(aj) {
			return out[i].ID > out[j].ID
		}
		return ai.After(aj)
	})
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, in models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[in.ThreadID]
	if !ok {
		return models.Message{}, repositories.ErrThreadNotFound
	}

	s.nextMessageID++
	msg := models.Message{
		ID:         s.nextMessageID,
		ThreadID:   in.ThreadID,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Content:    in.Content,
		CreatedAt:  s.now(),
	}
	s.messages[in.ThreadID] = append(s.messages[in.ThreadID], msg)

	at := msg.CreatedAt
	t.LastSnippet = in.Snippet
	t.LastAt = &at

	for _, userID := range in.Recipients {
		s.counter(userID).Messages++
	}
	return msg, nil
}

func (s *Store) ListMessages(_ context.Context, threadID int, offset, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.messages[threadID]
	if offset < 0 || offset >= len(all) || limit <= 0 {
		return []models.Message{}, nil
	}
	end := len(all) - offset
	start := end - limit
	if start < 0 {
		start = 0
	}
	return append([]models.Message(nil), all[start:end]...), nil
}

func (s *Store) CountMessages(_ context.Context, threadID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages[threadID]), nil
}

func (s *Store) MarkThreadRead(_ context.Context, userID int, threadID int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cursorKey{threadID: threadID, userID: userID}
	cursor := s.cursors[key]

	pending := 0
	maxID := cursor
	for _, m := range s.messages[threadID] {
		if m.ID > cursor && m.SenderID != userID {
			pending++
			if m.ID > maxID {
				maxID = m.ID
			}
		}
	}
	if pending == 0 {
		return 0, nil
	}
	s.cursors[key] = maxID

	c := s.counter(userID)
	decrement := pending
	if decrement > c.Messages {
		decrement = c.Messages
	}
	c.Messages -= decrement
	return decrement, nil
}

func (s *Store) GetUnread(_ context.Context, userID int) (models.UnreadCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[userID]; ok {
		return *c, nil
	}
	return models.UnreadCounter{UserID: userID}, nil
}

func (s *Store) CreateNotification(_ context.Context, in models.NewNotification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNotificationID++
	n := models.Notification{
		ID:        s.nextNotificationID,
		UserID:    in.UserID,
		Type:      in.Type,
		Title:     in.Title,
		Body:      in.Body,
		ActionURL: in.ActionURL,
		CreatedAt: s.now(),
	}
	s.notifications[in.UserID] = append(s.notifications[in.UserID], n)
	s.counter(in.UserID).Notification++
	return n, nil
}

func (s *Store) ListNotifications(_ context.Context, userID int, offset, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.notifications[userID]
	if offset < 0 || limit <= 0 {
		return []models.Notification{}, nil
	}
	out := make([]models.Notification, 0, min(limit, len(all)))
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, userID int, notificationID int64) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notifications[userID]
	for i := range list {
		if list[i].ID != notificationID {
			continue
		}
		if list[i].Read {
			return false, 0, nil
		}
		list[i].Read = true
		c := s.counter(userID)
		if c.Notification == 0 {
			return true, 0, nil
		}
		c.Notification--
		return true, 1, nil
	}
	return false, 0, repositories.ErrNotificationNotFound
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, userID int) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.notifications[userID]
	changed := 0
	for i := range list {
		if !list[i].Read {
			list[i].Read = true
			changed++
		}
	}
	c := s.counter(userID)
	decrement := min(changed, c.Notification)
	c.Notification -= decrement
	return changed, decrement, nil
}

// counter must be called with mu held.
func (s *Store) counter(userID int) *models.UnreadCounter {
	c, ok := s.counters[userID]
	if !ok {
		c = &models.UnreadCounter{UserID: userID}
		s.counters[userID] = c
	}
	return c
}

func copyThread(t *models.Thread) models.Thread {
	out := *t
	out.Participants = append([]int(nil), t.Participants...)
	if t.LastAt != nil {
		at := *t.LastAt
		out.LastAt = &at
	}
	return out
}

func activity(t models.Thread) time.Time {
	if t.LastAt != nil {
		return *t.LastAt
	}
	return t.CreatedAt
}
