package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"etiasassist.app/internal/ids"
	"etiasassist.app/internal/obs"
)

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, userID string) (Recipient, error)

func (f DirectoryFunc) Recipient(ctx context.Context, userID string) (Recipient, error) {
	return f(ctx, userID)
}

// Dispatcher records each notification, sends it and marks the outcome.
type Dispatcher struct {
	store  Store
	sender Sender
	users  Directory
	now    func() time.Time
}

// DispatcherOption configures Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDirectory resolves recipient names and addresses. Without one the
// generic greeting is used and no address is recorded.
func WithDirectory(d Directory) DispatcherOption {
	return func(x *Dispatcher) { x.users = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) DispatcherOption {
	return func(x *Dispatcher) { x.now = now }
}

// NewDispatcher wires store and sender.
func NewDispatcher(store Store, sender Sender, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil || sender == nil {
		return nil, errors.New("notification store and sender are required")
	}
	d := &Dispatcher{store: store, sender: sender, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Notify persists n as pending, sends it and marks it sent or failed. The
// returned notification reflects the final status.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = ids.New()
	}
	if n.Channel == "" {
		n.Channel = ChannelEmail
	}
	n.Status = StatusPending
	n.CreatedAt = d.now().UTC()
	if err := d.store.InsertNotification(ctx, n); err != nil {
		obs.ObserveNotification(string(n.Type), "store_error")
		return n, fmt.Errorf("insert notification: %w", err)
	}

	sendErr := d.sender.Send(ctx, n)
	if sendErr != nil {
		n.Status = StatusFailed
	} else {
		at := d.now().UTC()
		n.Status, n.SentAt = StatusSent, &at
	}
	obs.ObserveNotification(string(n.Type), string(n.Status))
	if err := d.store.MarkNotification(ctx, n.ID, n.Status, n.SentAt); err != nil {
		obs.Logger().Error("mark notification",
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
		if sendErr == nil {
			return n, fmt.Errorf("mark notification: %w", err)
		}
	}
	if sendErr != nil {
		obs.Logger().Warn("notification delivery failed",
			zap.String("notification_id", n.ID),
			zap.String("type", string(n.Type)),
			zap.Error(sendErr),
		)
		return n, fmt.Errorf("send notification: %w", sendErr)
	}
	return n, nil
}

func (d *Dispatcher) recipient(ctx context.Context, userID string) Recipient {
	if d.users == nil || userID == "" {
		return Recipient{}
	}
	r, err := d.users.Recipient(ctx, userID)
	if err != nil {
		obs.Logger().Warn("resolve notification recipient", zap.String("user_id", userID), zap.Error(err))
		return Recipient{}
	}
	return r
}

func (d *Dispatcher) toUser(ctx context.Context, t Type, userID, applicationID string, render func(name string) Message) error {
	r := d.recipient(ctx, userID)
	m := render(r.Name)
	_, err := d.Notify(ctx, Notification{
		UserID:         userID,
		ApplicationID:  applicationID,
		Type:           t,
		RecipientEmail: r.Email,
		Subject:        m.Subject,
		Content:        m.Content,
	})
	return err
}

// ApplicationStarted sends the welcome message.
func (d *Dispatcher) ApplicationStarted(ctx context.Context, userID, applicationID string) error {
	return d.toUser(ctx, TypeApplicationStarted, userID, applicationID, ApplicationStarted)
}

// PaymentReceived confirms a completed payment.
func (d *Dispatcher) PaymentReceived(ctx context.Context, userID, applicationID string) error {
	return d.toUser(ctx, TypePaymentReceived, userID, applicationID, func(name string) Message {
		return PaymentReceived(name, applicationID)
	})
}

// PaymentFailed tells the user to retry.
func (d *Dispatcher) PaymentFailed(ctx context.Context, userID, applicationID string) error {
	return d.toUser(ctx, TypePaymentFailed, userID, applicationID, PaymentFailed)
}

// ApplicationReady tells the user the application can be submitted.
func (d *Dispatcher) ApplicationReady(ctx context.Context, userID, applicationID string) error {
	return d.toUser(ctx, TypeApplicationReady, userID, applicationID, ApplicationReady)
}

// AdminAlert records an operator alert with no user attached.
func (d *Dispatcher) AdminAlert(ctx context.Context, kind, details string) error {
	m := AdminAlert(kind, details)
	_, err := d.Notify(ctx, Notification{
		Type:    TypeAdminAlert,
		Subject: m.Subject,
		Content: m.Content,
	})
	return err
}
