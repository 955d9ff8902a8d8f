package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"realtime-service/internal/messaging"
	"realtime-service/internal/middleware"
	"realtime-service/internal/observability"
)

const requestIDContextKey = "request_id"

// AuditRecorder receives one record per state-changing REST call.
type AuditRecorder interface {
	Action(ctx context.Context, action, requestID string, userID int, fields map[string]any)
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := observability.RequestIDFromRequest(c.Request)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt(middleware.UserIDKey); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	if header := c.GetHeader("X-User-ID"); header != "" {
		if _, err := strconv.Atoi(header); err == nil {
			return &header
		}
	}
	return nil
}

func audit(c *gin.Context, recorder AuditRecorder, action string, fields map[string]any) {
	if recorder == nil {
		return
	}
	recorder.Action(c.Request.Context(), action, requestIDFromContext(c), c.GetInt(middleware.UserIDKey), fields)
}

// writeError answers with the status and code err maps to.
func writeError(c *gin.Context, err error) {
	c.JSON(messaging.HTTPStatus(err), gin.H{"error": messaging.PublicMessage(err), "code": messaging.ErrorCode(err)})
}

func pathID(c *gin.Context, param string) (int, bool) {
	id, err := strconv.Atoi(c.Param(param))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + param, "code": messaging.CodeValidation})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, fmt.Errorf("%w: %v", messaging.ErrInvalidPayload, err))
		return false
	}
	return true
}
