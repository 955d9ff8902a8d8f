package telemetry

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/trace"

	"realtime-service/internal/logger"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *logger.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level  string         `json:"level"`
	Text   string         `json:"text"`
	Action string         `json:"action,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *logger.Logger) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log.Named("audit"),
	}
}

// Emit publishes a free-form audit line.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	e.publish(ctx, requestID, userID, AuditPayload{Level: level, Text: text})
}

// Action publishes a structured audit record for a state change made on
// behalf of userID (0 for service callers).
func (e *AuditEmitter) Action(ctx context.Context, action, requestID string, userID int, fields map[string]any) {
	var uid *string
	if userID != 0 {
		s := strconv.Itoa(userID)
		uid = &s
	}
	e.publish(ctx, requestID, uid, AuditPayload{Level: "INFO", Text: action, Action: action, Fields: fields})
}

func (e *AuditEmitter) publish(ctx context.Context, requestID string, userID *string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
	}
	e.log.Debug("audit emit", logger.String("level", payload.Level), logger.String("request_id", requestID), logger.String("text", payload.Text))

	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if envelope.TraceID != "" {
		headers["trace_id"] = envelope.TraceID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("audit publish failed", logger.Error(err))
	}
}
