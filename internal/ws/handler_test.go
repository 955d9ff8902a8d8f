package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/auth"
	"realtime-service/internal/config"
	"realtime-service/internal/logger"
	"realtime-service/internal/messaging"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories/memory"
)

type harness struct {
	url    string
	store  *memory.Store
	tokens *auth.JWT
	hub    *Hub
}

func newHarness(t *testing.T, mutate func(*config.WSConfig)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default().WS
	cfg.AuthTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	log := logger.Nop()
	store := memory.New()
	tokens := auth.NewJWT("test-secret", "")

	registry := NewRegistry()
	router := NewRouter(registry, nil, "node-a", log)
	hub := NewHub(registry, router)

	threads := messaging.NewThreads(store)
	pipeline := messaging.NewPipeline(store, store, router, log)
	counters := messaging.NewCounters(store, store, router, log)
	backfill := messaging.NewBackfill(store, store, 20, 100)
	dispatcher := NewDispatcher(router, threads, pipeline, counters, backfill, log)
	handler := NewHandler(hub, auth.NewGate(tokens, time.Second), dispatcher, counters, nil, cfg, []string{"*"}, log)

	engine := gin.New()
	engine.GET("/ws", handler.Handle)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &harness{
		url:    "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		store:  store,
		tokens: tokens,
		hub:    hub,
	}
}

func (h *harness) token(t *testing.T, userID int) string {
	t.Helper()
	tok, err := h.tokens.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := h.url
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials, authenticates and consumes connected + unread:sync.
func (h *harness) connect(t *testing.T, userID int) (*websocket.Conn, models.UnreadCounter) {
	t.Helper()
	conn := h.dial(t, "")
	send(t, conn, models.EventConnect, ConnectPayload{Token: h.token(t, userID)}, nil)

	frames := expect(t, conn, 2)
	require.Equal(t, []string{models.EventConnected, models.EventUnreadSync}, events(frames))
	var connected ConnectedPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &connected))
	require.Equal(t, userID, connected.UserID)
	require.NotEmpty(t, connected.ConnectionID)

	var counter models.UnreadCounter
	require.NoError(t, json.Unmarshal(frames[1].Data, &counter))
	return conn, counter
}

func send(t *testing.T, conn *websocket.Conn, event string, data any, ack *int64) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw, Ack: ack}))
}

func expect(t *testing.T, conn *websocket.Conn, n int) []Frame {
	t.Helper()
	frames := make([]Frame, 0, n)
	for len(frames) < n {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
	}
	return frames
}

func ackOf(t *testing.T, f Frame) (bool, json.RawMessage, *ErrorBody) {
	t.Helper()
	require.Equal(t, models.EventAck, f.Event)
	var p struct {
		OK    bool            `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error *ErrorBody      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p.OK, p.Data, p.Error
}

func TestSocketMessageFanOutAndRead(t *testing.T) {
	h := newHarness(t, nil)
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	alice, _ := h.connect(t, 1)
	bob, counter := h.connect(t, 2)
	assert.Zero(t, counter.Messages)

	send(t, alice, models.EventThreadJoin, models.ThreadRef{ThreadID: thread.ID}, ackID(1))
	ok, _, _ := ackOf(t, expect(t, alice, 1)[0])
	require.True(t, ok)
	send(t, bob, models.EventThreadJoin, models.ThreadRef{ThreadID: thread.ID}, ackID(1))
	ok, _, _ = ackOf(t, expect(t, bob, 1)[0])
	require.True(t, ok)

	send(t, alice, models.EventMessageSend, models.SendPayload{ThreadID: thread.ID, Content: "hello"}, ackID(2))

	aliceFrames := expect(t, alice, 3)
	assert.Equal(t, []string{models.EventMessageNew, models.EventThreadsUpsert, models.EventAck}, events(aliceFrames))
	ok, data, _ := ackOf(t, aliceFrames[2])
	require.True(t, ok)
	var sent models.Message
	require.NoError(t, json.Unmarshal(data, &sent))
	assert.Equal(t, "hello", sent.Content)
	require.NotNil(t, sent.ReceiverID)
	assert.Equal(t, 2, *sent.ReceiverID)

	bobFrames := expect(t, bob, 3)
	assert.Equal(t, []string{models.EventMessageNew, models.EventThreadsUpsert, models.EventBadgeUpdate}, events(bobFrames))
	var badge models.BadgeDelta
	require.NoError(t, json.Unmarshal(bobFrames[2].Data, &badge))
	assert.Equal(t, 1, badge.Delta)

	send(t, bob, models.EventMarkRead, models.ThreadRef{ThreadID: thread.ID}, ackID(3))
	readFrames := expect(t, bob, 3)
	assert.Equal(t, []string{models.EventThreadsRead, models.EventBadgeUpdate, models.EventAck}, events(readFrames))
	require.NoError(t, json.Unmarshal(readFrames[1].Data, &badge))
	assert.Equal(t, -1, badge.Delta)
	_, data, _ = ackOf(t, readFrames[2])
	assert.JSONEq(t, `{"threadId":1,"cleared":1}`, string(data))

	send(t, bob, models.EventMarkRead, models.ThreadRef{ThreadID: thread.ID}, ackID(4))
	again := expect(t, bob, 1)
	_, data, _ = ackOf(t, again[0])
	assert.JSONEq(t, `{"threadId":1,"cleared":0}`, string(data), "second read emits nothing but the ack")
}

func TestSocketReconnectBackfill(t *testing.T) {
	h := newHarness(t, nil)
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	alice, _ := h.connect(t, 1)
	bob, _ := h.connect(t, 2)
	require.NoError(t, bob.Close())
	require.Eventually(t, func() bool {
		return len(h.hub.Registry().ConnectionsFor(2)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, content := range []string{"one", "two", "three"} {
		send(t, alice, models.EventMessageSend, models.SendPayload{ThreadID: thread.ID, Content: content}, nil)
		frames := expect(t, alice, 1)
		require.Equal(t, models.EventThreadsUpsert, frames[0].Event)
	}

	bob, counter := h.connect(t, 2)
	assert.Equal(t, 3, counter.Messages, "badge resynchronised on reconnect")

	send(t, bob, models.EventConvoLoad, models.ConvoLoadPayload{ThreadID: thread.ID, Page: 1, Limit: 2}, nil)
	frames := expect(t, bob, 1)
	require.Equal(t, models.EventConvoData, frames[0].Event)
	var data models.ConvoData
	require.NoError(t, json.Unmarshal(frames[0].Data, &data))
	assert.Equal(t, 3, data.Total)
	require.Len(t, data.Messages, 2)
	assert.Equal(t, "two", data.Messages[0].Content)
	assert.Equal(t, "three", data.Messages[1].Content)
}

func TestSocketConvoLoadForbiddenForOutsider(t *testing.T) {
	h := newHarness(t, nil)
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	eve, _ := h.connect(t, 3)
	send(t, eve, models.EventConvoLoad, models.ConvoLoadPayload{ThreadID: thread.ID}, nil)
	frames := expect(t, eve, 1)
	require.Equal(t, models.EventError, frames[0].Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, messaging.CodeForbidden, payload.Code)
}

func TestSocketConvoLoadOverflowingPageKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	conn, _ := h.connect(t, 1)
	send(t, conn, models.EventConvoLoad, models.ConvoLoadPayload{ThreadID: thread.ID, Page: 1 << 62, Limit: 100}, nil)
	frames := expect(t, conn, 1)
	require.Equal(t, models.EventError, frames[0].Event)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &payload))
	assert.Equal(t, messaging.CodeValidation, payload.Code)

	send(t, conn, models.EventConvoLoad, models.ConvoLoadPayload{ThreadID: thread.ID, Page: 1, Limit: 100}, nil)
	frames = expect(t, conn, 1)
	assert.Equal(t, models.EventConvoData, frames[0].Event)
}

func TestSocketHandshakeRejections(t *testing.T) {
	tests := []struct {
		name  string
		query string
		frame any
		code  string
	}{
		{name: "no token", frame: Frame{Event: models.EventConnect, Data: json.RawMessage(`{}`)}, code: auth.CodeNoToken},
		{name: "garbage token", frame: Frame{Event: models.EventConnect, Data: json.RawMessage(`{"token":"nope"}`)}, code: auth.CodeAuthFailed},
		{name: "not a connect frame", frame: Frame{Event: models.EventThreadJoin, Data: json.RawMessage(`{"threadId":1}`)}, code: auth.CodeAuthFailed},
		{name: "bad query token", query: "token=nope", frame: Frame{Event: models.EventConnect}, code: auth.CodeAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			conn := h.dial(t, tt.query)
			require.NoError(t, conn.WriteJSON(tt.frame))
			assertRejected(t, conn, tt.code)
		})
	}
}

func TestSocketExpiredCredentialRejected(t *testing.T) {
	h := newHarness(t, nil)
	expired, err := h.tokens.Issue(1, -time.Minute)
	require.NoError(t, err)

	conn := h.dial(t, "")
	send(t, conn, models.EventConnect, ConnectPayload{Token: expired}, nil)
	assertRejected(t, conn, auth.CodeAuthFailed)
	assert.Empty(t, h.hub.Registry().ConnectionsFor(1))
}

func TestSocketAuthTimeout(t *testing.T) {
	h := newHarness(t, func(cfg *config.WSConfig) { cfg.AuthTimeout = 100 * time.Millisecond })
	conn := h.dial(t, "")
	assertRejected(t, conn, auth.CodeAuthFailed)
}

func TestSocketQueryTokenFallback(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, "token="+h.token(t, 7))
	require.NoError(t, conn.WriteJSON(Frame{Event: models.EventConnect}))
	frames := expect(t, conn, 2)
	assert.Equal(t, []string{models.EventConnected, models.EventUnreadSync}, events(frames))
	assert.Len(t, h.hub.Registry().ConnectionsFor(7), 1)
}

func TestSocketDisconnectReleasesState(t *testing.T) {
	h := newHarness(t, nil)
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	conn, _ := h.connect(t, 1)
	send(t, conn, models.EventThreadJoin, models.ThreadRef{ThreadID: thread.ID}, ackID(1))
	expect(t, conn, 1)
	assert.Equal(t, 2, h.hub.Router().TopicCount())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return h.hub.Registry().Count() == 0 && h.hub.Router().TopicCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocketSendRateLimited(t *testing.T) {
	h := newHarness(t, func(cfg *config.WSConfig) {
		cfg.SendRate = 0.001
		cfg.SendBurst = 1
	})
	thread, err := h.store.CreateThread(context.Background(), []int{1, 2})
	require.NoError(t, err)

	conn, _ := h.connect(t, 1)
	send(t, conn, models.EventMessageSend, models.SendPayload{ThreadID: thread.ID, Content: "a"}, ackID(1))
	frames := expect(t, conn, 2)
	assert.Equal(t, []string{models.EventThreadsUpsert, models.EventAck}, events(frames))

	send(t, conn, models.EventMessageSend, models.SendPayload{ThreadID: thread.ID, Content: "b"}, ackID(2))
	ok, _, errBody := ackOf(t, expect(t, conn, 1)[0])
	assert.False(t, ok)
	require.NotNil(t, errBody)
	assert.Equal(t, messaging.CodeRateLimited, errBody.Code)
}

func assertRejected(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()
	frames := expect(t, conn, 1)
	require.Equal(t, models.EventConnectError, frames[0].Event)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(frames[0].Data, &body))
	assert.Equal(t, code, body.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, CloseUnauthorized), "got %v", err)
}
