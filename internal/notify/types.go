// Package notify records and delivers user notifications. Delivery is
// best-effort: callers log failures and carry on.
package notify

import (
	"context"
	"time"
)

// Type of notification.
type Type string

const (
	TypeApplicationStarted   Type = "application_started"
	TypeEligibilityConfirmed Type = "eligibility_confirmed"
	TypePaymentReceived      Type = "payment_received"
	TypePaymentFailed        Type = "payment_failed"
	TypeApplicationReady     Type = "application_ready"
	TypeReminderIncomplete   Type = "reminder_incomplete"
	TypeAdminAlert           Type = "admin_alert"
)

// Status of a notification record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ChannelEmail is the only channel.
const ChannelEmail = "email"

// Notification is the persisted record of one delivery attempt.
type Notification struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId,omitempty"`
	ApplicationID  string     `json:"applicationId,omitempty"`
	Type           Type       `json:"type"`
	Channel        string     `json:"channel"`
	RecipientEmail string     `json:"recipientEmail,omitempty"`
	Subject        string     `json:"subject"`
	Content        string     `json:"content"`
	Status         Status     `json:"status"`
	SentAt         *time.Time `json:"sentAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Store persists notification records.
type Store interface {
	InsertNotification(ctx context.Context, n Notification) error
	MarkNotification(ctx context.Context, id string, status Status, sentAt *time.Time) error
}

// Sender hands a notification to a delivery channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Recipient is what templates need to know about a user.
type Recipient struct {
	Email string
	Name  string
}

// Directory resolves user ids to recipients.
type Directory interface {
	Recipient(ctx context.Context, userID string) (Recipient, error)
}
