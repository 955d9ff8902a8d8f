package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"realtime-service/internal/messaging"
	"realtime-service/internal/middleware"
	"realtime-service/internal/models"
)

type NotificationService interface {
	Create(ctx context.Context, in models.NewNotification) (models.Notification, error)
	List(ctx context.Context, userID, page, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID int, notificationID int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int) (int, error)
}

// NotificationHandler manages notification endpoints.
type NotificationHandler struct {
	notifications NotificationService
	audit         AuditRecorder
}

func NewNotificationHandler(notifications NotificationService, audit AuditRecorder) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, audit: audit}
}

// ListNotifications returns a page of the caller's notifications.
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), c.GetInt(middleware.UserIDKey), queryInt(c, "page"), queryInt(c, "limit"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// MarkRead marks one notification read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("notification_id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id", "code": messaging.CodeValidation})
		return
	}

	changed, err := h.notifications.MarkRead(c.Request.Context(), c.GetInt(middleware.UserIDKey), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "changed": changed})
}

// MarkAllRead marks every notification of the caller read.
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	count, err := h.notifications.MarkAllRead(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": count})
}

// CreateNotification is called by other marketplace services.
func (h *NotificationHandler) CreateNotification(c *gin.Context) {
	var req models.NewNotification
	if !bindJSON(c, &req) {
		return
	}

	created, err := h.notifications.Create(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	audit(c, h.audit, "notification.created", map[string]any{"notification_id": created.ID, "owner_id": created.UserID, "type": string(created.Type)})
	c.JSON(http.StatusCreated, created)
}
