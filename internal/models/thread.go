package models

import "time"

// Thread is a conversation container. Participants are not limited to two.
type Thread struct {
	ID           int        `db:"id" json:"id"`
	LastSnippet  string     `db:"last_snippet" json:"lastSnippet"`
	LastAt       *time.Time `db:"last_at" json:"lastAt"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	Participants []int      `db:"-" json:"participants"`
}

// HasParticipant reports whether userID takes part in the thread.
func (t Thread) HasParticipant(userID int) bool {
	for _, id := range t.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID.
func (t Thread) Others(userID int) []int {
	others := make([]int, 0, len(t.Participants))
	for _, id := range t.Participants {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// UnreadCounter is the per-user badge aggregate.
type UnreadCounter struct {
	UserID       int `db:"user_id" json:"userId"`
	Messages     int `db:"message_unread" json:"messages"`
	Notification int `db:"notification_unread" json:"notifications"`
}
