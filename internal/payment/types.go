// Package payment reconciles service-fee payments between the local store and
// the hosted checkout provider. Every webhook-driven write is status-guarded
// so duplicate and out-of-order deliveries apply at most once.
package payment

import (
	"context"
	"fmt"
	"time"

	"etiasassist.app/internal/apperr"
)

// Status of one payment attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is enumerated.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusRefunded || s == StatusCancelled
}

// CanTransition reports whether a payment in from may move to to. Same-status
// moves are rejected so repeated events are no-ops. A failed payment may still
// succeed when the provider confirms the same intent later.
func CanTransition(from, to Status) bool {
	if !to.Valid() || from == to || from.Terminal() {
		return false
	}
	return true
}

// Payment is one attempt at paying the fee for one application.
type Payment struct {
	ID                string     `json:"id"`
	ApplicationID     string     `json:"applicationId"`
	UserID            string     `json:"userId"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Status            Status     `json:"status"`
	CheckoutSessionID string     `json:"stripeCheckoutSessionId,omitempty"`
	PaymentIntentID   string     `json:"stripePaymentIntentId,omitempty"`
	CustomerID        string     `json:"stripeCustomerId,omitempty"`
	PaymentMethod     string     `json:"paymentMethod,omitempty"`
	ReceiptURL        string     `json:"receiptUrl,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
}

// Transition is a guarded status change plus the fields learned with it.
// Empty strings leave the stored value untouched.
type Transition struct {
	To           Status
	IntentID     string
	CustomerID   string
	ErrorMessage string
	At           time.Time
}

// Store persists payments. Missing records yield apperr.ErrNotFound and an
// intent id already attached elsewhere yields apperr.ErrConflict.
type Store interface {
	CreatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id string) (Payment, error)
	GetPaymentByIntent(ctx context.Context, intentID string) (Payment, error)
	LatestPayment(ctx context.Context, applicationID string) (Payment, error)
	AttachSession(ctx context.Context, id, sessionID string, at time.Time) error
	// TransitionPayment applies t only when CanTransition(current, t.To)
	// holds and reports whether the row changed.
	TransitionPayment(ctx context.Context, id string, t Transition) (bool, error)
}

// Metadata keys carried on both the checkout session and its payment intent.
const (
	MetaUserID        = "user_id"
	MetaApplicationID = "application_id"
	MetaPaymentID     = "payment_id"
)

// Correlation ties a provider object back to local records.
type Correlation struct {
	UserID        string
	ApplicationID string
	PaymentID     string
}

// Metadata renders c for the provider. The same map is attached to the
// session and to the payment intent so every event type carries it.
func (c Correlation) Metadata() map[string]string {
	return map[string]string{
		MetaUserID:        c.UserID,
		MetaApplicationID: c.ApplicationID,
		MetaPaymentID:     c.PaymentID,
	}
}

// CorrelationFrom parses provider metadata. All three keys are required.
func CorrelationFrom(md map[string]string) (Correlation, error) {
	c := Correlation{
		UserID:        md[MetaUserID],
		ApplicationID: md[MetaApplicationID],
		PaymentID:     md[MetaPaymentID],
	}
	if c.UserID == "" || c.ApplicationID == "" || c.PaymentID == "" {
		return Correlation{}, fmt.Errorf("%w: incomplete correlation metadata %v", apperr.ErrValidation, md)
	}
	return c, nil
}
