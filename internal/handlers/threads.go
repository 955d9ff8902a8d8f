package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/middleware"
	"realtime-service/internal/models"
)

type ThreadService interface {
	Create(ctx context.Context, creatorID int, participantIDs []int) (models.Thread, error)
	ListForUser(ctx context.Context, userID int) ([]models.Thread, error)
}

type MessageSender interface {
	SendMessage(ctx context.Context, threadID, senderID int, content string) (models.Message, error)
}

type HistoryLoader interface {
	Load(ctx context.Context, userID, threadID, page, limit int) (models.ConvoData, error)
}

type ReadService interface {
	MarkThreadRead(ctx context.Context, userID, threadID int) (int, error)
	Unread(ctx context.Context, userID int) (models.UnreadCounter, error)
}

// ThreadHandler exposes threads and messages over REST. Writes go through
// the same pipeline as the socket so subscribers see identical events.
type ThreadHandler struct {
	threads ThreadService
	sender  MessageSender
	history HistoryLoader
	reads   ReadService
	audit   AuditRecorder
}

// NewThreadHandler builds a ThreadHandler. audit may be nil.
func NewThreadHandler(threads ThreadService, sender MessageSender, history HistoryLoader, reads ReadService, audit AuditRecorder) *ThreadHandler {
	return &ThreadHandler{
		threads: threads,
		sender:  sender,
		history: history,
		reads:   reads,
		audit:   audit,
	}
}

// CreateThread opens a thread between the caller and participantIds.
func (h *ThreadHandler) CreateThread(c *gin.Context) {
	var req struct {
		ParticipantIDs []int `json:"participantIds" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}

	userID := c.GetInt(middleware.UserIDKey)
	thread, err := h.threads.Create(c.Request.Context(), userID, req.ParticipantIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	audit(c, h.audit, "thread.created", map[string]any{"thread_id": thread.ID, "participants": thread.Participants})
	c.JSON(http.StatusCreated, thread)
}

// ListThreads returns the caller's inbox.
func (h *ThreadHandler) ListThreads(c *gin.Context) {
	threads, err := h.threads.ListForUser(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// GetMessages returns one page of history, same shape as convo:data.
func (h *ThreadHandler) GetMessages(c *gin.Context) {
	threadID, ok := pathID(c, "thread_id")
	if !ok {
		return
	}

	data, err := h.history.Load(c.Request.Context(), c.GetInt(middleware.UserIDKey), threadID, queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// PostMessage sends a message as the caller.
func (h *ThreadHandler) PostMessage(c *gin.Context) {
	threadID, ok := pathID(c, "thread_id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !bindJSON(c, &req) {
		return
	}

	msg, err := h.sender.SendMessage(c.Request.Context(), threadID, c.GetInt(middleware.UserIDKey), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}

	audit(c, h.audit, "message.sent", map[string]any{"thread_id": threadID, "message_id": msg.ID})
	c.JSON(http.StatusCreated, msg)
}

// MarkRead clears the caller's unread messages in the thread.
func (h *ThreadHandler) MarkRead(c *gin.Context) {
	threadID, ok := pathID(c, "thread_id")
	if !ok {
		return
	}

	cleared, err := h.reads.MarkThreadRead(c.Request.Context(), c.GetInt(middleware.UserIDKey), threadID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threadId": threadID, "cleared": cleared})
}

// Unread returns the caller's badge counters.
func (h *ThreadHandler) Unread(c *gin.Context) {
	counter, err := h.reads.Unread(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counter)
}
