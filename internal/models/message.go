package models

import "time"

// Message represents a persisted message in a thread.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	ThreadID   int       `db:"thread_id" json:"threadId"`
	SenderID   int       `db:"sender_id" json:"senderId"`
	ReceiverID *int      `db:"receiver_id" json:"receiverId"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// NewMessage carries everything the store needs to persist a message and
// bump the unread counters of its recipients in one step.
type NewMessage struct {
	ThreadID   int
	SenderID   int
	ReceiverID *int
	Content    string
	Snippet    string
	Recipients []int
}
