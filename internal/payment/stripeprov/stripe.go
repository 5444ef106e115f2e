// Package stripeprov adapts Stripe Checkout to payment.Provider.
package stripeprov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/payment"
)

// DefaultTolerance bounds the age of a signed webhook timestamp.
const DefaultTolerance = 5 * time.Minute

// Provider talks to Stripe.
type Provider struct {
	secretKey     string
	backend       stripe.Backend
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
}

var _ payment.Provider = (*Provider)(nil)

// Option configures Provider.
type Option func(*Provider)

// WithBackend routes API calls through b, typically a test server.
func WithBackend(b stripe.Backend) Option {
	return func(p *Provider) { p.backend = b }
}

// WithTolerance overrides the signature timestamp tolerance.
func WithTolerance(d time.Duration) Option {
	return func(p *Provider) { p.tolerance = d }
}

// New returns a Provider. The secret key is needed for checkout creation and
// the webhook secret for event verification.
func New(secretKey, webhookSecret string, opts ...Option) (*Provider, error) {
	p := &Provider{
		secretKey:     strings.TrimSpace(secretKey),
		webhookSecret: strings.TrimSpace(webhookSecret),
		tolerance:     DefaultTolerance,
	}
	if p.secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if p.webhookSecret == "" {
		return nil, errors.New("stripe webhook secret is required")
	}
	for _, opt := range opts {
		opt(p)
	}
	var backends *stripe.Backends
	if p.backend != nil {
		backends = &stripe.Backends{API: p.backend, Connect: p.backend, Uploads: p.backend}
	}
	p.api = client.New(p.secretKey, backends)
	return p, nil
}

// CreateCheckout opens a one-item card checkout. Correlation metadata is set
// on the session and copied to its payment intent.
func (p *Provider) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (payment.Checkout, error) {
	md := req.Correlation.Metadata()
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(req.Product.Name),
					Description: stripe.String(req.Product.Description),
					Metadata:    req.Product.Metadata,
				},
				UnitAmount: stripe.Int64(req.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
		Metadata:          md,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: md,
		},
		AllowPromotionCodes:      stripe.Bool(true),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return payment.Checkout{}, fmt.Errorf("stripe checkout: %w", err)
	}
	return payment.Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

type failureDetail struct {
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (p *Provider) ParseEvent(payload []byte, signature string) (payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return payment.Event{}, fmt.Errorf("%w: %v", apperr.ErrSignatureInvalid, err)
	}
	out := payment.Event{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return out, nil
	}

	switch out.Type {
	case payment.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			out.DecodeErr = fmt.Errorf("decode checkout session: %w", err)
			return out, nil
		}
		out.SessionID = sess.ID
		out.Metadata = sess.Metadata
		if sess.PaymentIntent != nil {
			out.IntentID = sess.PaymentIntent.ID
		}
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
	case payment.EventIntentSucceeded, payment.EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			out.DecodeErr = fmt.Errorf("decode payment intent: %w", err)
			return out, nil
		}
		out.IntentID = pi.ID
		out.Metadata = pi.Metadata
		if pi.Customer != nil {
			out.CustomerID = pi.Customer.ID
		}
		var fd failureDetail
		if err := json.Unmarshal(ev.Data.Raw, &fd); err == nil && fd.LastPaymentError != nil {
			out.FailureMessage = fd.LastPaymentError.Message
		}
	}
	return out, nil
}
