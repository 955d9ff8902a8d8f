package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionStats reports what the local websocket hub currently holds.
type SessionStats interface {
	Stats() (connections, topics int)
}

// AuditSink takes free-form audit records.
type AuditSink interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
}

// DebugHandler serves node introspection endpoints. Only mounted when debug
// is on.
type DebugHandler struct {
	node     string
	sessions SessionStats
	audit    AuditSink
}

func NewDebugHandler(node string, sessions SessionStats, audit AuditSink) *DebugHandler {
	return &DebugHandler{node: node, sessions: sessions, audit: audit}
}

// RegisterDebugRoutes mounts the debug endpoints under /debug.
func RegisterDebugRoutes(router gin.IRouter, h *DebugHandler, enabled bool) {
	if !enabled || h == nil {
		return
	}
	debug := router.Group("/debug")
	debug.GET("/sessions", h.Sessions)
	debug.POST("/audit", h.Audit)
}

// Sessions returns the node's connection and topic counts.
func (h *DebugHandler) Sessions(c *gin.Context) {
	connections, topics := h.sessions.Stats()
	c.JSON(http.StatusOK, gin.H{"node": h.node, "connections": connections, "topics": topics})
}

// Audit pushes one record through the audit pipeline so the broker wiring
// can be checked end to end.
func (h *DebugHandler) Audit(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
		return
	}
	var req struct {
		Level string `json:"level"`
		Text  string `json:"text"`
	}
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	level := strings.ToUpper(strings.TrimSpace(req.Level))
	if level == "" {
		level = "INFO"
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "audit test from " + h.node
	}

	requestID := requestIDFromContext(c)
	h.audit.Emit(c.Request.Context(), level, text, requestID, userIDFromContext(c))
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "requestId": requestID})
}
