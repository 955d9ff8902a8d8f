package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/messaging"
	"realtime-service/internal/middleware"
	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

type threadDeps struct {
	threads *mocks.ThreadServiceMock
	sender  *mocks.MessageSenderMock
	history *mocks.HistoryLoaderMock
	reads   *mocks.ReadServiceMock
	audit   *mocks.AuditRecorderMock
}

func setupThreadRouter() (*gin.Engine, threadDeps) {
	gin.SetMode(gin.TestMode)
	deps := threadDeps{
		threads: new(mocks.ThreadServiceMock),
		sender:  new(mocks.MessageSenderMock),
		history: new(mocks.HistoryLoaderMock),
		reads:   new(mocks.ReadServiceMock),
		audit:   new(mocks.AuditRecorderMock),
	}
	handler := NewThreadHandler(deps.threads, deps.sender, deps.history, deps.reads, deps.audit)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, 1)
		c.Next()
	})
	r.POST("/threads", handler.CreateThread)
	r.GET("/threads", handler.ListThreads)
	r.GET("/threads/:thread_id/messages", handler.GetMessages)
	r.POST("/threads/:thread_id/messages", handler.PostMessage)
	r.POST("/threads/:thread_id/read", handler.MarkRead)
	r.GET("/unread", handler.Unread)
	return r, deps
}

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serveRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	return serveRequest(r, newJSONRequest(method, path, body))
}

func TestPostMessageSuccess(t *testing.T) {
	r, deps := setupThreadRouter()
	deps.sender.On("SendMessage", mock.Anything, 42, 1, "hello").Return(models.Message{ID: 9, ThreadID: 42, SenderID: 1, Content: "hello"}, nil).Once()
	deps.audit.On("Action", mock.Anything, "message.sent", mock.AnythingOfType("string"), 1, map[string]any{"thread_id": 42, "message_id": int64(9)}).Once()

	rec := serve(r, http.MethodPost, "/threads/42/messages", `{"content":"hello"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	assert.Equal(t, int64(9), msg.ID)
	deps.sender.AssertExpectations(t)
	deps.audit.AssertExpectations(t)
}

func TestPostMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		err    error
		status int
		code   string
	}{
		{name: "bad thread id", path: "/threads/abc/messages", body: `{"content":"x"}`, status: http.StatusBadRequest, code: messaging.CodeValidation},
		{name: "malformed body", path: "/threads/42/messages", body: `{`, status: http.StatusBadRequest, code: messaging.CodeValidation},
		{name: "empty content", path: "/threads/42/messages", body: `{"content":" "}`, err: messaging.ErrEmptyContent, status: http.StatusBadRequest, code: messaging.CodeValidation},
		{name: "not participant", path: "/threads/42/messages", body: `{"content":"x"}`, err: messaging.ErrNotParticipant, status: http.StatusForbidden, code: messaging.CodeForbidden},
		{name: "unknown thread", path: "/threads/42/messages", body: `{"content":"x"}`, err: repositories.ErrThreadNotFound, status: http.StatusNotFound, code: messaging.CodeNotFound},
		{name: "store down", path: "/threads/42/messages", body: `{"content":"x"}`, err: messaging.ErrPersistence, status: http.StatusServiceUnavailable, code: messaging.CodePersistence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, deps := setupThreadRouter()
			if tt.err != nil {
				deps.sender.On("SendMessage", mock.Anything, 42, 1, mock.Anything).Return(nil, tt.err).Once()
			}

			rec := serve(r, http.MethodPost, tt.path, tt.body)

			require.Equal(t, tt.status, rec.Code)
			var resp map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp["code"])
			deps.sender.AssertExpectations(t)
			deps.audit.AssertNotCalled(t, "Action", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestGetMessagesPassesPaging(t *testing.T) {
	r, deps := setupThreadRouter()
	deps.history.On("Load", mock.Anything, 1, 42, 2, 10).Return(models.ConvoData{ThreadID: 42, Messages: []models.Message{}, Total: 15}, nil).Once()

	rec := serve(r, http.MethodGet, "/threads/42/messages?page=2&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threadId":42,"messages":[],"total":15}`, rec.Body.String())
	deps.history.AssertExpectations(t)
}

func TestMarkReadAndUnread(t *testing.T) {
	r, deps := setupThreadRouter()
	deps.reads.On("MarkThreadRead", mock.Anything, 1, 42).Return(3, nil).Once()
	deps.reads.On("Unread", mock.Anything, 1).Return(models.UnreadCounter{UserID: 1, Messages: 2, Notification: 1}, nil).Once()

	rec := serve(r, http.MethodPost, "/threads/42/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"threadId":42,"cleared":3}`, rec.Body.String())

	rec = serve(r, http.MethodGet, "/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"userId":1,"messages":2,"notifications":1}`, rec.Body.String())
	deps.reads.AssertExpectations(t)
}

func TestCreateAndListThreads(t *testing.T) {
	r, deps := setupThreadRouter()
	thread := models.Thread{ID: 5, Participants: []int{1, 2}}
	deps.threads.On("Create", mock.Anything, 1, []int{2}).Return(thread, nil).Once()
	deps.threads.On("ListForUser", mock.Anything, 1).Return([]models.Thread{thread}, nil).Once()
	deps.audit.On("Action", mock.Anything, "thread.created", mock.Anything, 1, mock.Anything).Once()

	rec := serve(r, http.MethodPost, "/threads", `{"participantIds":[2]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(r, http.MethodGet, "/threads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Threads []models.Thread `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Threads, 1)
	assert.Equal(t, []int{1, 2}, resp.Threads[0].Participants)

	deps.threads.AssertExpectations(t)
	deps.audit.AssertExpectations(t)
}

func TestCreateThreadRejectsSoloThread(t *testing.T) {
	r, deps := setupThreadRouter()
	deps.threads.On("Create", mock.Anything, 1, []int{1}).Return(nil, repositories.ErrNotEnoughParticipants).Once()

	rec := serve(r, http.MethodPost, "/threads", `{"participantIds":[1]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	deps.threads.AssertExpectations(t)
}
