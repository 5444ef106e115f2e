package payment

import (
	"context"
	"fmt"

	"etiasassist.app/internal/apperr"
)

// Provider event types handled by the reconciler.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventIntentSucceeded   = "payment_intent.succeeded"
	EventIntentFailed      = "payment_intent.payment_failed"
)

// TestEventPrefix marks provider events sent while configuring the endpoint.
const TestEventPrefix = "evt_test_"

// Product describes the single line item sold.
type Product struct {
	Name        string
	Description string
	Metadata    map[string]string
}

// CheckoutRequest is what the provider needs to host a payment page.
type CheckoutRequest struct {
	Correlation       Correlation
	Product           Product
	Amount            int64
	Currency          string
	CustomerEmail     string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
}

// Checkout is the hosted session returned by the provider. PaymentID is
// filled in by the reconciler.
type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	PaymentID string `json:"paymentId"`
}

// Event is a verified provider event reduced to the fields reconciliation
// uses. Metadata comes from the event's object: the session for checkout
// events and the intent for payment_intent events.
type Event struct {
	ID             string
	Type           string
	SessionID      string
	IntentID       string
	CustomerID     string
	Metadata       map[string]string
	FailureMessage string
	// DecodeErr is set when the signature verified but the event object
	// could not be decoded. The event is acknowledged and not applied.
	DecodeErr error `json:"-"`
}

// Provider is the hosted checkout service.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// ParseEvent verifies signature against payload before decoding it. A
	// failed verification returns an error wrapping apperr.ErrSignatureInvalid;
	// a verified event whose object cannot be decoded is returned with
	// DecodeErr set and a nil error.
	ParseEvent(payload []byte, signature string) (Event, error)
}

// Unconfigured stands in when no provider credentials are set. Checkouts fail
// as an external service error and every webhook is rejected.
type Unconfigured struct{}

func (Unconfigured) CreateCheckout(context.Context, CheckoutRequest) (Checkout, error) {
	return Checkout{}, fmt.Errorf("%w: payment provider is not configured", apperr.ErrExternalService)
}

func (Unconfigured) ParseEvent([]byte, string) (Event, error) {
	return Event{}, fmt.Errorf("%w: webhook secret is not configured", apperr.ErrSignatureInvalid)
}
