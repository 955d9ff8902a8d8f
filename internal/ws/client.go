package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"realtime-service/internal/config"
	"realtime-service/internal/messaging"
	"realtime-service/internal/models"
)

// State is the lifecycle position of a connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// CloseUnauthorized is the close code sent after a connect_error.
const CloseUnauthorized = 4401

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client is one websocket connection. It has one reader, one dispatcher
// consuming inbox in order, and one writer draining send.
type Client struct {
	id     string
	conn   *websocket.Conn
	userID int
	info   ConnInfo
	state  atomic.Int32

	send  chan []byte
	inbox chan Frame

	done       chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string
	writeMu    sync.Mutex
	limiter    *rate.Limiter
	writeWait  time.Duration
	pongWait   time.Duration
	maxMessage int64
}

func newClient(id string, conn *websocket.Conn, cfg config.WSConfig, info ConnInfo) *Client {
	c := &Client{
		id:         id,
		conn:       conn,
		info:       info,
		send:       make(chan []byte, cfg.SendBuffer),
		inbox:      make(chan Frame, cfg.InboxBuffer),
		done:       make(chan struct{}),
		closeCode:  websocket.CloseNormalClosure,
		limiter:    rate.NewLimiter(rate.Limit(cfg.SendRate), cfg.SendBurst),
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		maxMessage: cfg.MaxMessageSize,
	}
	c.info.ConnID = id
	return c
}

func (c *Client) ID() string { return c.id }

func (c *Client) UserID() int { return c.userID }

func (c *Client) Info() ConnInfo { return c.info }

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// bind attaches the verified identity. It must happen before the client is
// registered.
func (c *Client) bind(userID int) {
	c.userID = userID
	c.info.UserID = userID
}

// Send queues an encoded frame without blocking.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		return errSendBufferFull
	}
}

// SendEvent encodes and queues one event.
func (c *Client) SendEvent(event string, data any) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Close shuts the connection down with a normal close.
func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith shuts the connection down; the writer sends the close frame.
func (c *Client) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

// reject answers a failed handshake with connect_error and closes the socket.
// The pumps are not running yet, so it writes directly.
func (c *Client) reject(code, message string) {
	if frame, err := EncodeFrame(models.EventConnectError, ErrorBody{Code: code, Message: message}); err == nil {
		_ = c.write(websocket.TextMessage, frame)
	}
	_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(CloseUnauthorized, code))
	c.setState(StateDisconnected)
	_ = c.conn.Close()
}

func (c *Client) writePump() {
	pingPeriod := c.pongWait * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.CloseWith(websocket.CloseAbnormalClosure, err.Error())
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.CloseWith(websocket.CloseAbnormalClosure, err.Error())
				return
			}
		case <-c.done:
			if c.closeCode != websocket.CloseAbnormalClosure {
				_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			}
			return
		}
	}
}

// readPump feeds inbound frames to the inbox until the socket fails. A frame
// that is not valid JSON is answered with an error event and skipped.
func (c *Client) readPump() error {
	c.conn.SetReadLimit(c.maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			_ = c.SendEvent(models.EventError, ErrorPayload{Code: messaging.CodeValidation, Message: "malformed frame"})
			continue
		}
		select {
		case c.inbox <- frame:
		case <-c.done:
			return nil
		}
	}
}
