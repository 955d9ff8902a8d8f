package messaging

import (
	"errors"
	"net/http"

	"realtime-service/internal/repositories"
)

// Wire error codes.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeNotFound    = "NOT_FOUND"
	CodeForbidden   = "FORBIDDEN"
	CodePersistence = "PERSISTENCE_ERROR"
	CodeRateLimited = "RATE_LIMITED"
	CodeInternal    = "INTERNAL"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content is too long")
	ErrInvalidThread  = errors.New("invalid thread id")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrNotParticipant = errors.New("user is not a participant of the thread")
	ErrRateLimited    = errors.New("too many messages")
	ErrPersistence    = errors.New("persistence failure")
)

// ErrorCode maps err onto the wire error taxonomy.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyContent), errors.Is(err, ErrContentTooLong),
		errors.Is(err, ErrInvalidThread), errors.Is(err, ErrInvalidPayload),
		errors.Is(err, repositories.ErrNotEnoughParticipants):
		return CodeValidation
	case errors.Is(err, ErrNotParticipant):
		return CodeForbidden
	case errors.Is(err, repositories.ErrThreadNotFound), errors.Is(err, repositories.ErrNotificationNotFound):
		return CodeNotFound
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

// HTTPStatus maps err onto an HTTP status code.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. Internal details of
// persistence failures are not exposed.
func PublicMessage(err error) string {
	switch ErrorCode(err) {
	case CodePersistence:
		return "storage unavailable"
	case CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

func persistenceError(err error) error {
	return errors.Join(ErrPersistence, err)
}
