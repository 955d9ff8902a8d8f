package observability

import (
	"context"
	"time"

	"realtime-service/internal/logger"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent is the payload of websocket lifecycle events.
type WSEvent struct {
	WS       WSDetails `json:"ws"`
	Identity Identity  `json:"identity"`
}

type WSDetails struct {
	Event      string `json:"event"`
	ConnID     string `json:"conn_id"`
	Node       string `json:"node"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason"`
}

type Identity struct {
	UserID   int    `json:"user_id"`
	DeviceID string `json:"device_id"`
	IP       string `json:"ip"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// Publisher is satisfied by rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Events emits websocket lifecycle events to the broker.
type Events struct {
	publisher  Publisher
	routingKey string
	node       string
	log        *logger.Logger
}

func NewEvents(publisher Publisher, routingKey, node string, log *logger.Logger) *Events {
	return &Events{publisher: publisher, routingKey: routingKey, node: node, log: log}
}

// WS records and publishes one lifecycle event. A nil receiver only counts.
func (e *Events) WS(ctx context.Context, event, connID string, identity Identity, connectedAt time.Time, reason string, headers map[string]string) {
	IncWSEvent(event)
	if e == nil || e.publisher == nil {
		return
	}

	var duration int64
	if !connectedAt.IsZero() {
		duration = time.Since(connectedAt).Milliseconds()
	}
	envelope := EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: WSEvent{
			WS: WSDetails{
				Event:      event,
				ConnID:     connID,
				Node:       e.node,
				DurationMS: duration,
				Reason:     reason,
			},
			Identity: identity,
		},
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		IncAMQPPublishError()
		e.log.Debug("ws event publish failed", logger.String("event", event), logger.Error(err))
	}
}
