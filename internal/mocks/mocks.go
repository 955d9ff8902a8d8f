package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"realtime-service/internal/models"
)

type ThreadServiceMock struct {
	mock.Mock
}

func (m *ThreadServiceMock) Create(ctx context.Context, creatorID int, participantIDs []int) (models.Thread, error) {
	args := m.Called(ctx, creatorID, participantIDs)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *ThreadServiceMock) ListForUser(ctx context.Context, userID int) ([]models.Thread, error) {
	args := m.Called(ctx, userID)
	var list []models.Thread
	if val := args.Get(0); val != nil {
		list = val.([]models.Thread)
	}
	return list, args.Error(1)
}

type MessageSenderMock struct {
	mock.Mock
}

func (m *MessageSenderMock) SendMessage(ctx context.Context, threadID, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, threadID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type HistoryLoaderMock struct {
	mock.Mock
}

func (m *HistoryLoaderMock) Load(ctx context.Context, userID, threadID, page, limit int) (models.ConvoData, error) {
	args := m.Called(ctx, userID, threadID, page, limit)
	var data models.ConvoData
	if val := args.Get(0); val != nil {
		data = val.(models.ConvoData)
	}
	return data, args.Error(1)
}

type ReadServiceMock struct {
	mock.Mock
}

func (m *ReadServiceMock) MarkThreadRead(ctx context.Context, userID, threadID int) (int, error) {
	args := m.Called(ctx, userID, threadID)
	return args.Int(0), args.Error(1)
}

func (m *ReadServiceMock) Unread(ctx context.Context, userID int) (models.UnreadCounter, error) {
	args := m.Called(ctx, userID)
	var counter models.UnreadCounter
	if val := args.Get(0); val != nil {
		counter = val.(models.UnreadCounter)
	}
	return counter, args.Error(1)
}

type NotificationServiceMock struct {
	mock.Mock
}

func (m *NotificationServiceMock) Create(ctx context.Context, in models.NewNotification) (models.Notification, error) {
	args := m.Called(ctx, in)
	var n models.Notification
	if val := args.Get(0); val != nil {
		n = val.(models.Notification)
	}
	return n, args.Error(1)
}

func (m *NotificationServiceMock) List(ctx context.Context, userID, page, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, userID, page, limit)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationServiceMock) MarkRead(ctx context.Context, userID int, notificationID int64) (bool, error) {
	args := m.Called(ctx, userID, notificationID)
	return args.Bool(0), args.Error(1)
}

func (m *NotificationServiceMock) MarkAllRead(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type AuditRecorderMock struct {
	mock.Mock
}

func (m *AuditRecorderMock) Action(ctx context.Context, action, requestID string, userID int, fields map[string]any) {
	m.Called(ctx, action, requestID, userID, fields)
}

type AuditSinkMock struct {
	mock.Mock
}

func (m *AuditSinkMock) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	m.Called(ctx, level, text, requestID, userID)
}

type SessionStatsMock struct {
	mock.Mock
}

func (m *SessionStatsMock) Stats() (int, int) {
	args := m.Called()
	return args.Int(0), args.Int(1)
}

type TokenVerifierMock struct {
	mock.Mock
}

func (m *TokenVerifierMock) VerifyToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

// PublisherMock satisfies the AMQP event publisher contract.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
