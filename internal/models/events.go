package models

import (
	"strconv"
	"time"
)

// Inbound events.
const (
	EventConnect     = "connect"
	EventThreadJoin  = "thread:join"
	EventThreadLeave = "thread:leave"
	EventMessageSend = "message:send"
	EventMarkRead    = "message:markRead"
	EventConvoLoad   = "convo:load"
)

// Outbound events.
const (
	EventConnected          = "connected"
	EventConnectError       = "connect_error"
	EventAck                = "ack"
	EventError              = "error"
	EventMessageNew         = "message:new"
	EventThreadsUpsert      = "threads:upsert"
	EventThreadsRead        = "threads:read"
	EventBadgeUpdate        = "badge:update"
	EventConvoData          = "convo:data"
	EventUnreadSync         = "unread:sync"
	EventNotificationNew    = "notification:new"
	EventNotificationsBadge = "notifications:badge"
)

// ThreadRef is the payload of thread:join, thread:leave, message:markRead
// and threads:read.
type ThreadRef struct {
	ThreadID int `json:"threadId"`
}

// SendPayload is the payload of message:send.
type SendPayload struct {
	ThreadID int    `json:"threadId"`
	Content  string `json:"content"`
}

// ConvoLoadPayload is the payload of convo:load.
type ConvoLoadPayload struct {
	ThreadID int `json:"threadId"`
	Page     int `json:"page"`
	Limit    int `json:"limit"`
}

// ThreadUpsert is the payload of threads:upsert.
type ThreadUpsert struct {
	ThreadID    int       `json:"threadId"`
	LastSnippet string    `json:"lastSnippet"`
	LastAt      time.Time `json:"lastAt"`
}

// BadgeDelta is the payload of badge:update and notifications:badge.
type BadgeDelta struct {
	Delta int `json:"delta"`
}

// ConvoData is the payload of convo:data.
type ConvoData struct {
	ThreadID int       `json:"threadId"`
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// UserTopic is the private channel of a user.
func UserTopic(userID int) string {
	return "user:" + strconv.Itoa(userID)
}

// ThreadTopic is the channel of a conversation.
func ThreadTopic(threadID int) string {
	return "thread:" + strconv.Itoa(threadID)
}
