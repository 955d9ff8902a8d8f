package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"realtime-service/internal/middleware"
	"realtime-service/internal/mocks"
	"realtime-service/internal/models"
	"realtime-service/internal/repositories"
)

func setupNotificationRouter() (*gin.Engine, *mocks.NotificationServiceMock, *mocks.AuditRecorderMock) {
	gin.SetMode(gin.TestMode)
	svc := new(mocks.NotificationServiceMock)
	recorder := new(mocks.AuditRecorderMock)
	handler := NewNotificationHandler(svc, recorder)

	r := gin.New()
	user := r.Group("/", func(c *gin.Context) {
		c.Set(middleware.UserIDKey, 3)
		c.Next()
	})
	user.GET("/notifications", handler.ListNotifications)
	user.POST("/notifications/:notification_id/read", handler.MarkRead)
	user.POST("/notifications/read-all", handler.MarkAllRead)
	r.POST("/internal/notifications", middleware.ServiceAuth("svc-token"), handler.CreateNotification)
	return r, svc, recorder
}

func TestListNotifications(t *testing.T) {
	r, svc, _ := setupNotificationRouter()
	svc.On("List", mock.Anything, 3, 1, 0).Return([]models.Notification{{ID: 1, UserID: 3, Type: models.NotificationMessage, Title: "hi"}}, nil).Once()

	rec := serve(r, http.MethodGet, "/notifications?page=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, models.NotificationMessage, resp.Notifications[0].Type)
	svc.AssertExpectations(t)
}

func TestMarkNotificationRead(t *testing.T) {
	r, svc, _ := setupNotificationRouter()
	svc.On("MarkRead", mock.Anything, 3, int64(8)).Return(true, nil).Once()
	svc.On("MarkRead", mock.Anything, 3, int64(9)).Return(false, repositories.ErrNotificationNotFound).Once()

	rec := serve(r, http.MethodPost, "/notifications/8/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":8,"changed":true}`, rec.Body.String())

	rec = serve(r, http.MethodPost, "/notifications/9/read", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(r, http.MethodPost, "/notifications/x/read", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertExpectations(t)
}

func TestMarkAllNotificationsRead(t *testing.T) {
	r, svc, _ := setupNotificationRouter()
	svc.On("MarkAllRead", mock.Anything, 3).Return(4, nil).Once()

	rec := serve(r, http.MethodPost, "/notifications/read-all", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":4}`, rec.Body.String())
	svc.AssertExpectations(t)
}

func TestCreateNotificationRequiresServiceToken(t *testing.T) {
	r, svc, recorder := setupNotificationRouter()
	in := models.NewNotification{UserID: 3, Type: models.NotificationPaymentFailed, Title: "Payment failed"}
	svc.On("Create", mock.Anything, in).Return(models.Notification{ID: 11, UserID: 3, Type: in.Type, Title: in.Title}, nil).Once()
	recorder.On("Action", mock.Anything, "notification.created", mock.Anything, 0, mock.Anything).Once()

	body := `{"userId":3,"type":"payment_failed","title":"Payment failed"}`
	rec := serve(r, http.MethodPost, "/internal/notifications", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := newJSONRequest(http.MethodPost, "/internal/notifications", body)
	req.Header.Set("Authorization", "Bearer svc-token")
	rec = serveRequest(r, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	svc.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestCreateNotificationFoldsUnknownType(t *testing.T) {
	r, svc, recorder := setupNotificationRouter()
	svc.On("Create", mock.Anything, mock.MatchedBy(func(in models.NewNotification) bool {
		return in.Type == models.NotificationUnknown
	})).Return(models.Notification{ID: 12, UserID: 3, Type: models.NotificationUnknown}, nil).Once()
	recorder.On("Action", mock.Anything, "notification.created", mock.Anything, 0, mock.Anything).Once()

	req := newJSONRequest(http.MethodPost, "/internal/notifications", `{"userId":3,"type":"brand_new_kind","title":"x"}`)
	req.Header.Set("Authorization", "Bearer svc-token")
	rec := serveRequest(r, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	svc.AssertExpectations(t)
}
