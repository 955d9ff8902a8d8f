package models

import (
	"encoding/json"
	"time"
)

// NotificationType is the closed set of notification kinds clients know how
// to render. Anything else decodes to NotificationUnknown.
type NotificationType string

const (
	NotificationContactRequest       NotificationType = "contact_request"
	NotificationContactAccepted      NotificationType = "contact_accepted"
	NotificationAnnouncementApproved NotificationType = "announcement_approved"
	NotificationAnnouncementRejected NotificationType = "announcement_rejected"
	NotificationSubscriptionExpiring NotificationType = "subscription_expiring"
	NotificationPaymentSucceeded     NotificationType = "payment_succeeded"
	NotificationPaymentFailed        NotificationType = "payment_failed"
	NotificationMessage              NotificationType = "message"
	NotificationUnknown              NotificationType = "unknown"
)

var knownNotificationTypes = map[NotificationType]struct{}{
	NotificationContactRequest:       {},
	NotificationContactAccepted:      {},
	NotificationAnnouncementApproved: {},
	NotificationAnnouncementRejected: {},
	NotificationSubscriptionExpiring: {},
	NotificationPaymentSucceeded:     {},
	NotificationPaymentFailed:        {},
	NotificationMessage:              {},
}

// ParseNotificationType maps a free-form tag onto the closed enumeration.
func ParseNotificationType(s string) NotificationType {
	t := NotificationType(s)
	if _, ok := knownNotificationTypes[t]; ok {
		return t
	}
	return NotificationUnknown
}

// Known reports whether t is one of the defined kinds.
func (t NotificationType) Known() bool {
	_, ok := knownNotificationTypes[t]
	return ok
}

// UnmarshalJSON folds unrecognised tags into NotificationUnknown.
func (t *NotificationType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = ParseNotificationType(s)
	return nil
}

// Notification is an application event that needs the user's attention.
type Notification struct {
	ID        int64            `db:"id" json:"id"`
	UserID    int              `db:"user_id" json:"userId"`
	Type      NotificationType `db:"type" json:"type"`
	Title     string           `db:"title" json:"title"`
	Body      string           `db:"body" json:"message"`
	ActionURL *string          `db:"action_url" json:"actionUrl,omitempty"`
	Read      bool             `db:"read" json:"read"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// NewNotification is the input of notification creation.
type NewNotification struct {
	UserID    int              `json:"userId" binding:"required"`
	Type      NotificationType `json:"type" binding:"required"`
	Title     string           `json:"title" binding:"required"`
	Body      string           `json:"message"`
	ActionURL *string          `json:"actionUrl"`
}
