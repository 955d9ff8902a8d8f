package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/logger"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
)

type Authenticator interface {
	Authenticate(ctx context.Context, h auth.Handshake) (auth.Identity, error)
}

type UnreadSyncer interface {
	SyncUnread(ctx context.Context, userID int, deliver func(models.UnreadCounter)) error
}

// Handler upgrades HTTP requests to websocket sessions.
type Handler struct {
	hub        *Hub
	gate       Authenticator
	dispatcher *Dispatcher
	unread     UnreadSyncer
	events     *observability.Events
	cfg        config.WSConfig
	upgrader   websocket.Upgrader
	log        *logger.Logger
}

// NewHandler constructs a Handler. origins restricts browser origins; a
// request without an Origin header is always accepted.
func NewHandler(hub *Hub, gate Authenticator, dispatcher *Dispatcher, unread UnreadSyncer, events *observability.Events, cfg config.WSConfig, origins []string, log *logger.Logger) *Handler {
	policy := cors.New(cors.Options{AllowedOrigins: origins})
	return &Handler{
		hub:        hub,
		gate:       gate,
		dispatcher: dispatcher,
		unread:     unread,
		events:     events,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if r.Header.Get("Origin") == "" {
					return true
				}
				return policy.OriginAllowed(r)
			},
		},
		log: log.Named("ws"),
	}
}

// Handle runs one connection from upgrade to teardown.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("realtime-service/ws").Start(c.Request.Context(), "ws.handshake")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.End()
		return
	}

	client := newClient(uuid.NewString(), conn, h.cfg, connInfoFromRequest("", c.Request, span.SpanContext().TraceID().String()))
	client.setState(StateAuthenticating)
	log := h.log.WithField("conn_id", client.ID())

	identity, err := h.authenticate(ctx, client, c.Request)
	if err != nil {
		code := auth.RejectCode(err)
		observability.IncAuthRejection(code)
		h.events.WS(ctx, "ws_auth_rejected", client.ID(), client.Info().identity(), client.Info().ConnectedAt, code, client.Info().headers())
		log.Info("connection rejected", logger.String("code", code), logger.Error(err))
		span.SetStatus(codes.Error, code)
		span.End()
		client.reject(code, rejectMessage(err))
		return
	}

	client.bind(identity.UserID)
	if err := h.hub.Attach(client); err != nil {
		log.Error("attach failed", logger.Error(err))
		span.RecordError(err)
		span.End()
		client.reject(auth.CodeAuthFailed, "session could not be established")
		return
	}
	client.setState(StateAuthenticated)
	span.SetAttributes(attribute.Int("user.id", identity.UserID))
	span.End()

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	_ = client.SendEvent(models.EventConnected, ConnectedPayload{ConnectionID: client.ID(), UserID: identity.UserID})
	// the client is already on its user topic, so the snapshot is taken
	// under the counter fence to keep it and later deltas disjoint
	if err := h.unread.SyncUnread(sessionCtx, identity.UserID, func(counter models.UnreadCounter) {
		_ = client.SendEvent(models.EventUnreadSync, counter)
	}); err != nil {
		log.Warn("unread sync failed", logger.Error(err))
	}

	h.events.WS(sessionCtx, "ws_connect", client.ID(), client.Info().identity(), client.Info().ConnectedAt, "", client.Info().headers())
	log.Info("connection authenticated", logger.Int("user_id", identity.UserID))

	go client.writePump()
	go h.dispatcher.Run(sessionCtx, client)

	readErr := client.readPump()
	client.Close()
	h.hub.Detach(client)
	client.setState(StateDisconnected)

	reason := ""
	if readErr != nil {
		reason = readErr.Error()
		if websocket.IsUnexpectedCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			h.events.WS(sessionCtx, "ws_error", client.ID(), client.Info().identity(), client.Info().ConnectedAt, reason, client.Info().headers())
		}
	}
	h.events.WS(sessionCtx, "ws_disconnect", client.ID(), client.Info().identity(), client.Info().ConnectedAt, reason, client.Info().headers())
	log.Info("connection closed", logger.Int("user_id", identity.UserID), logger.Duration("duration", time.Since(client.Info().ConnectedAt)))
}

// authenticate waits for the connect frame and runs the gate. The whole
// exchange must finish within the configured auth timeout.
func (h *Handler) authenticate(ctx context.Context, client *Client, r *http.Request) (auth.Identity, error) {
	deadline := time.Now().Add(h.cfg.AuthTimeout)
	_ = client.conn.SetReadDeadline(deadline)
	client.conn.SetReadLimit(h.cfg.MaxMessageSize)

	_, raw, err := client.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return auth.Identity{}, auth.Reject(auth.CodeAuthFailed, "authentication timeout", err)
		}
		return auth.Identity{}, auth.Reject(auth.CodeAuthFailed, "handshake aborted", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return auth.Identity{}, auth.Reject(auth.CodeAuthFailed, "malformed handshake", err)
	}
	if frame.Event != models.EventConnect {
		return auth.Identity{}, auth.Reject(auth.CodeAuthFailed, "expected connect frame", nil)
	}
	var payload ConnectPayload
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			return auth.Identity{}, auth.Reject(auth.CodeInvalidToken, "malformed handshake payload", err)
		}
	}

	authCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	return h.gate.Authenticate(authCtx, auth.Handshake{
		AuthToken: payload.Token,
		Header:    r.Header,
		Query:     r.URL.Query(),
	})
}

func rejectMessage(err error) string {
	var rej *auth.RejectError
	if errors.As(err, &rej) {
		return rej.Message
	}
	return "authentication failed"
}
