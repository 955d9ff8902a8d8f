package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"realtime-service/internal/logger"
	"realtime-service/internal/messaging"
	"realtime-service/internal/models"
	"realtime-service/internal/observability"
)

var errFramePanic = errors.New("frame handler panicked")

type ThreadAccess interface {
	CheckParticipant(ctx context.Context, userID, threadID int) error
}

type MessageSender interface {
	SendMessage(ctx context.Context, threadID, senderID int, content string) (models.Message, error)
}

type ReadMarker interface {
	MarkThreadRead(ctx context.Context, userID, threadID int) (int, error)
}

type HistoryLoader interface {
	Load(ctx context.Context, userID, threadID, page, limit int) (models.ConvoData, error)
}

// MarkReadResult is the ack data of message:markRead.
type MarkReadResult struct {
	ThreadID int `json:"threadId"`
	Cleared  int `json:"cleared"`
}

// Dispatcher executes inbound frames for authenticated connections.
type Dispatcher struct {
	router  *Router
	threads ThreadAccess
	sender  MessageSender
	reads   ReadMarker
	history HistoryLoader
	log     *logger.Logger
}

func NewDispatcher(router *Router, threads ThreadAccess, sender MessageSender, reads ReadMarker, history HistoryLoader, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		router:  router,
		threads: threads,
		sender:  sender,
		reads:   reads,
		history: history,
		log:     log.Named("dispatcher"),
	}
}

// Run consumes the client's inbox until the client closes. Frames are
// handled one at a time, in arrival order.
func (d *Dispatcher) Run(ctx context.Context, c *Client) {
	for {
		select {
		case frame := <-c.inbox:
			d.Dispatch(ctx, c, frame)
		case <-c.Done():
			return
		}
	}
}

// Dispatch handles one frame and answers with an ack, or with an error event
// when the frame failed and asked for no ack.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f Frame) {
	var (
		result any
		err    error
	)
	if c.State() != StateAuthenticated {
		err = fmt.Errorf("%w: connection is not authenticated", messaging.ErrNotParticipant)
	} else {
		result, err = d.safeHandle(ctx, c, f)
	}

	code := "ok"
	if err != nil {
		code = messaging.ErrorCode(err)
		d.log.Debug("inbound frame failed", logger.String("event", f.Event), logger.String("conn_id", c.ID()), logger.String("code", code), logger.Error(err))
	}
	observability.IncInbound(f.Event, code)

	switch {
	case f.Ack != nil:
		payload := AckPayload{OK: err == nil, Data: result}
		if err != nil {
			payload.Data = nil
			payload.Error = &ErrorBody{Code: code, Message: messaging.PublicMessage(err)}
		}
		if frame, encErr := encodeAck(*f.Ack, payload); encErr == nil {
			_ = c.Send(frame)
		}
	case err != nil:
		_ = c.SendEvent(models.EventError, ErrorPayload{Event: f.Event, Code: code, Message: messaging.PublicMessage(err)})
	}
}

// safeHandle turns a handler panic into an internal error so one frame
// cannot take down the process.
func (d *Dispatcher) safeHandle(ctx context.Context, c *Client, f Frame) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("inbound frame panicked", logger.String("event", f.Event), logger.String("conn_id", c.ID()), logger.Any("panic", r))
			result, err = nil, fmt.Errorf("%w: %v", errFramePanic, r)
		}
	}()
	return d.handle(ctx, c, f)
}

func (d *Dispatcher) handle(ctx context.Context, c *Client, f Frame) (any, error) {
	switch f.Event {
	case models.EventThreadJoin:
		var p models.ThreadRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		if err := d.threads.CheckParticipant(ctx, c.UserID(), p.ThreadID); err != nil {
			return nil, err
		}
		return nil, d.router.Join(c.ID(), models.ThreadTopic(p.ThreadID))

	case models.EventThreadLeave:
		var p models.ThreadRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		if p.ThreadID <= 0 {
			return nil, messaging.ErrInvalidThread
		}
		d.router.Leave(c.ID(), models.ThreadTopic(p.ThreadID))
		return nil, nil

	case models.EventMessageSend:
		if !c.limiter.Allow() {
			return nil, messaging.ErrRateLimited
		}
		var p models.SendPayload
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		return d.sender.SendMessage(ctx, p.ThreadID, c.UserID(), p.Content)

	case models.EventMarkRead:
		var p models.ThreadRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		n, err := d.reads.MarkThreadRead(ctx, c.UserID(), p.ThreadID)
		if err != nil {
			return nil, err
		}
		return MarkReadResult{ThreadID: p.ThreadID, Cleared: n}, nil

	case models.EventConvoLoad:
		var p models.ConvoLoadPayload
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		data, err := d.history.Load(ctx, c.UserID(), p.ThreadID, p.Page, p.Limit)
		if err != nil {
			return nil, err
		}
		return nil, c.SendEvent(models.EventConvoData, data)

	case models.EventConnect:
		return nil, fmt.Errorf("%w: already authenticated", messaging.ErrInvalidPayload)

	default:
		return nil, fmt.Errorf("%w: unknown event %q", messaging.ErrInvalidPayload, f.Event)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", messaging.ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrInvalidPayload, err)
	}
	return nil
}
