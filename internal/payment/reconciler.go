package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/ids"
	"etiasassist.app/internal/obs"
)

// Service fee defaults.
const (
	DefaultFeeCents = 1900
	DefaultCurrency = "eur"
)

// Line item shown on the hosted checkout page.
var ServiceProduct = Product{
	Name:        "ETIAS Application Assistance",
	Description: "Professional assistance for preparing your ETIAS travel authorization application",
}

// ErrPaymentNotFound is returned when no payment matches a lookup.
var ErrPaymentNotFound = fmt.Errorf("%w: payment not found", apperr.ErrNotFound)

// ErrAlreadyPaid rejects a second checkout for a paid application.
var ErrAlreadyPaid = fmt.Errorf("%w: application is already paid", apperr.ErrValidation)

// Notifier is told about payment outcomes. Failures are logged, never returned.
type Notifier interface {
	PaymentReceived(ctx context.Context, userID, applicationID string) error
	PaymentFailed(ctx context.Context, userID, applicationID string) error
}

// Alerter raises operator alerts for webhook deliveries that could not be
// applied.
type Alerter interface {
	AdminAlert(ctx context.Context, kind, details string) error
}

// Ack is the body acknowledging a webhook delivery.
type Ack struct {
	Verified bool `json:"verified,omitempty"`
	Received bool `json:"received,omitempty"`
}

// Customer identifies who starts a checkout.
type Customer struct {
	UserID string
	Email  string
}

// Reconciler drives checkout creation and webhook-based reconciliation.
type Reconciler struct {
	payments Store
	apps     application.Store
	provider Provider
	notifier Notifier
	alerter  Alerter
	tracker  analytics.Tracker
	amount   int64
	currency string
	baseURL  string
	now      func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler) error

// WithNotifier sets the payment outcome hook.
func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) error {
		r.notifier = n
		return nil
	}
}

// WithAlerter sets where processing failures are escalated.
func WithAlerter(a Alerter) Option {
	return func(r *Reconciler) error {
		r.alerter = a
		return nil
	}
}

// WithTracker sets where analytics events go.
func WithTracker(t analytics.Tracker) Option {
	return func(r *Reconciler) error {
		r.tracker = t
		return nil
	}
}

// WithFee overrides the amount in minor units and the ISO currency.
func WithFee(amount int64, currency string) Option {
	return func(r *Reconciler) error {
		if amount <= 0 {
			return errors.New("fee must be positive")
		}
		currency = strings.ToLower(strings.TrimSpace(currency))
		if len(currency) != 3 {
			return fmt.Errorf("invalid currency %q", currency)
		}
		r.amount, r.currency = amount, currency
		return nil
	}
}

// WithBaseURL sets the public origin used for success and cancel URLs.
func WithBaseURL(base string) Option {
	return func(r *Reconciler) error {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base == "" {
			return errors.New("base url is required")
		}
		r.baseURL = base
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) error {
		if now == nil {
			return errors.New("nil clock")
		}
		r.now = now
		return nil
	}
}

// NewReconciler wires the payment flow.
func NewReconciler(payments Store, apps application.Store, provider Provider, opts ...Option) (*Reconciler, error) {
	if payments == nil || apps == nil || provider == nil {
		return nil, errors.New("payment store, application store and provider are required")
	}
	r := &Reconciler{
		payments: payments,
		apps:     apps,
		provider: provider,
		tracker:  analytics.Nop{},
		amount:   DefaultFeeCents,
		currency: DefaultCurrency,
		baseURL:  "http://localhost:3000",
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CreateCheckoutSession opens a hosted checkout for an owned application.
// The pending payment row is written before the provider call; a provider
// failure marks it failed and leaves the application untouched.
func (r *Reconciler) CreateCheckoutSession(ctx context.Context, c Customer, applicationID string) (Checkout, error) {
	app, err := application.LoadOwned(ctx, r.apps, applicationID, c.UserID)
	if err != nil {
		return Checkout{}, err
	}
	if !app.Status.Before(application.StatusPaymentCompleted) {
		return Checkout{}, ErrAlreadyPaid
	}

	now := r.now().UTC()
	p := Payment{
		ID:            ids.New(),
		ApplicationID: app.ID,
		UserID:        c.UserID,
		Amount:        r.amount,
		Currency:      r.currency,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.payments.CreatePayment(ctx, p); err != nil {
		obs.ObserveCheckout("store_error")
		return Checkout{}, fmt.Errorf("create payment: %w", err)
	}

	corr := Correlation{UserID: c.UserID, ApplicationID: app.ID, PaymentID: p.ID}
	checkout, err := r.provider.CreateCheckout(ctx, CheckoutRequest{
		Correlation:       corr,
		Product:           Product{Name: ServiceProduct.Name, Description: ServiceProduct.Description, Metadata: map[string]string{MetaApplicationID: app.ID}},
		Amount:            r.amount,
		Currency:          r.currency,
		CustomerEmail:     c.Email,
		ClientReferenceID: c.UserID,
		SuccessURL:        fmt.Sprintf("%s/success/%s?session_id={CHECKOUT_SESSION_ID}", r.baseURL, app.ID),
		CancelURL:         fmt.Sprintf("%s/payment/%s?cancelled=true", r.baseURL, app.ID),
	})
	if err != nil {
		obs.ObserveCheckout("provider_error")
		if _, terr := r.payments.TransitionPayment(ctx, p.ID, Transition{To: StatusFailed, ErrorMessage: err.Error(), At: r.now().UTC()}); terr != nil {
			obs.Logger().Error("mark payment failed after checkout error",
				zap.String("payment_id", p.ID),
				zap.Error(terr),
			)
		}
		return Checkout{}, fmt.Errorf("%w: create checkout session: %v", apperr.ErrExternalService, err)
	}

	now = r.now().UTC()
	if err := r.payments.AttachSession(ctx, p.ID, checkout.SessionID, now); err != nil {
		r.logOrphanSession(p, checkout.SessionID, "attach session", err)
		return Checkout{}, fmt.Errorf("attach checkout session: %w", err)
	}
	if _, err := r.apps.AdvanceStatus(ctx, app.ID, application.StatusPaymentPending, now); err != nil {
		r.logOrphanSession(p, checkout.SessionID, "advance status", err)
		return Checkout{}, fmt.Errorf("advance application status: %w", err)
	}
	checkout.PaymentID = p.ID
	obs.ObserveCheckout("created")
	analytics.Emit(ctx, r.tracker, analytics.Event{
		UserID: c.UserID,
		Type:   analytics.CheckoutSessionCreated,
		Data:   map[string]any{"applicationId": app.ID, "paymentId": p.ID, "sessionId": checkout.SessionID},
	})
	return checkout, nil
}

// logOrphanSession records a provider session whose local bookkeeping failed,
// so a later checkout.session.completed can be matched to the payment by hand.
func (r *Reconciler) logOrphanSession(p Payment, sessionID, step string, err error) {
	obs.ObserveCheckout("store_error")
	obs.Logger().Error("checkout session created but not recorded",
		zap.String("step", step),
		zap.String("payment_id", p.ID),
		zap.String("application_id", p.ApplicationID),
		zap.String("session_id", sessionID),
		zap.Error(err),
	)
}

// GetStatus returns the latest payment for an owned application.
func (r *Reconciler) GetStatus(ctx context.Context, applicationID, requesterID string) (Payment, error) {
	app, err := application.LoadOwned(ctx, r.apps, applicationID, requesterID)
	if err != nil {
		return Payment{}, err
	}
	p, err := r.payments.LatestPayment(ctx, app.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

// HandleWebhook verifies and applies one provider delivery. Only a bad
// signature is returned as an error; processing failures are logged and
// acknowledged so the provider does not retry into the same failure.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signature string) (Ack, error) {
	ev, err := r.provider.ParseEvent(payload, signature)
	if err != nil {
		obs.ObserveWebhook("unknown", "rejected")
		if !errors.Is(err, apperr.ErrSignatureInvalid) {
			err = fmt.Errorf("%w: %v", apperr.ErrSignatureInvalid, err)
		}
		return Ack{}, err
	}
	if strings.HasPrefix(ev.ID, TestEventPrefix) {
		obs.ObserveWebhook(ev.Type, "test")
		return Ack{Verified: true}, nil
	}

	var applied bool
	switch {
	case ev.DecodeErr != nil:
		err = fmt.Errorf("%w: %v", apperr.ErrValidation, ev.DecodeErr)
	case ev.Type == EventCheckoutCompleted:
		applied, err = r.checkoutCompleted(ctx, ev)
	case ev.Type == EventIntentSucceeded:
		applied, err = r.intentSucceeded(ctx, ev)
	case ev.Type == EventIntentFailed:
		applied, err = r.intentFailed(ctx, ev)
	default:
		obs.Logger().Info("webhook event ignored", zap.String("event_id", ev.ID), zap.String("type", ev.Type))
		obs.ObserveWebhook(ev.Type, "ignored")
		return Ack{Received: true}, nil
	}

	switch {
	case err != nil:
		obs.Logger().Error("webhook processing failed",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		obs.ObserveWebhook(ev.Type, "error")
		if r.alerter != nil {
			details := fmt.Sprintf("event %s (%s): %v", ev.ID, ev.Type, err)
			if aerr := r.alerter.AdminAlert(ctx, "Webhook processing failed", details); aerr != nil {
				obs.Logger().Warn("admin alert failed", zap.Error(aerr))
			}
		}
	case applied:
		obs.ObserveWebhook(ev.Type, "applied")
	default:
		obs.ObserveWebhook(ev.Type, "duplicate")
	}
	return Ack{Received: true}, nil
}

func (r *Reconciler) checkoutCompleted(ctx context.Context, ev Event) (bool, error) {
	corr, err := CorrelationFrom(ev.Metadata)
	if err != nil {
		return false, err
	}
	p, err := r.resolve(ctx, corr.PaymentID, ev.IntentID)
	if err != nil {
		return false, err
	}
	if p.ApplicationID != corr.ApplicationID || p.UserID != corr.UserID {
		return false, fmt.Errorf("%w: metadata does not match payment %s", apperr.ErrValidation, p.ID)
	}
	app, err := r.apps.GetApplication(ctx, corr.ApplicationID)
	if err != nil {
		return false, fmt.Errorf("load application: %w", err)
	}
	if app.UserID != corr.UserID {
		return false, fmt.Errorf("%w: application %s not owned by %s", apperr.ErrValidation, app.ID, corr.UserID)
	}

	now := r.now().UTC()
	paid, err := r.payments.TransitionPayment(ctx, p.ID, Transition{
		To:         StatusSucceeded,
		IntentID:   ev.IntentID,
		CustomerID: ev.CustomerID,
		At:         now,
	})
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	advanced, err := r.apps.AdvanceStatus(ctx, app.ID, application.StatusReadyToSubmit, now)
	if err != nil {
		return paid, fmt.Errorf("advance application status: %w", err)
	}
	if !advanced {
		return paid, nil
	}

	analytics.Emit(ctx, r.tracker, analytics.Event{
		UserID: corr.UserID,
		Type:   analytics.PaymentCompleted,
		Data:   map[string]any{"applicationId": app.ID, "paymentId": p.ID, "amount": p.Amount},
	})
	r.notify(ctx, "payment_received", func(n Notifier) error {
		return n.PaymentReceived(ctx, corr.UserID, app.ID)
	})
	return true, nil
}

func (r *Reconciler) intentSucceeded(ctx context.Context, ev Event) (bool, error) {
	p, err := r.resolve(ctx, ev.Metadata[MetaPaymentID], ev.IntentID)
	if err != nil {
		return false, err
	}
	changed, err := r.payments.TransitionPayment(ctx, p.ID, Transition{
		To:         StatusSucceeded,
		IntentID:   ev.IntentID,
		CustomerID: ev.CustomerID,
		At:         r.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	return changed, nil
}

func (r *Reconciler) intentFailed(ctx context.Context, ev Event) (bool, error) {
	p, err := r.resolve(ctx, ev.Metadata[MetaPaymentID], ev.IntentID)
	if err != nil {
		return false, err
	}
	msg := ev.FailureMessage
	if msg == "" {
		msg = "Payment failed"
	}
	changed, err := r.payments.TransitionPayment(ctx, p.ID, Transition{
		To:           StatusFailed,
		IntentID:     ev.IntentID,
		ErrorMessage: msg,
		At:           r.now().UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	if !changed {
		return false, nil
	}

	analytics.Emit(ctx, r.tracker, analytics.Event{
		UserID: p.UserID,
		Type:   analytics.PaymentFailed,
		Data:   map[string]any{"applicationId": p.ApplicationID, "paymentId": p.ID, "error": msg},
	})
	r.notify(ctx, "payment_failed", func(n Notifier) error {
		return n.PaymentFailed(ctx, p.UserID, p.ApplicationID)
	})
	return true, nil
}

// resolve finds the payment by its local id, falling back to the intent id.
func (r *Reconciler) resolve(ctx context.Context, paymentID, intentID string) (Payment, error) {
	if paymentID != "" {
		p, err := r.payments.GetPayment(ctx, paymentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return Payment{}, fmt.Errorf("load payment: %w", err)
		}
	}
	if intentID != "" {
		p, err := r.payments.GetPaymentByIntent(ctx, intentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return Payment{}, fmt.Errorf("load payment by intent: %w", err)
		}
	}
	return Payment{}, fmt.Errorf("%w (payment %q, intent %q)", ErrPaymentNotFound, paymentID, intentID)
}

func (r *Reconciler) notify(ctx context.Context, kind string, fn func(Notifier) error) {
	if r.notifier == nil {
		return
	}
	if err := fn(r.notifier); err != nil {
		obs.Logger().Warn("payment notification failed", zap.String("kind", kind), zap.Error(err))
	}
}
