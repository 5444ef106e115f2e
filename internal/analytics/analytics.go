// Package analytics records product events emitted by the other components.
package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/ids"
	"etiasassist.app/internal/obs"
)

// Event types emitted by the core.
const (
	EligibilityCheck       = "eligibility_check"
	ApplicationStarted     = "application_started"
	ApplicationUpdated     = "application_updated"
	ApplicationRedirected  = "application_redirected"
	CheckoutSessionCreated = "checkout_session_created"
	PaymentCompleted       = "payment_completed"
	PaymentFailed          = "payment_failed"
)

const maxEventTypeLen = 100

// Event is one analytics record.
type Event struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Type      string         `json:"eventType"`
	Data      map[string]any `json:"eventData,omitempty"`
	PageURL   string         `json:"pageUrl,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Tracker accepts events. Implementations must not block state changes.
type Tracker interface {
	Track(ctx context.Context, e Event) error
}

// Store persists events.
type Store interface {
	InsertEvent(ctx context.Context, e Event) error
}

// Recorder is the Tracker backed by a Store.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// Track validates and stores e, filling id and timestamp when absent.
func (r *Recorder) Track(ctx context.Context, e Event) error {
	e.Type = strings.TrimSpace(e.Type)
	if e.Type == "" || len(e.Type) > maxEventTypeLen {
		return fmt.Errorf("%w: eventType must be 1..%d characters", apperr.ErrValidation, maxEventTypeLen)
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if err := r.store.InsertEvent(ctx, e); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// Emit tracks e and logs a failure instead of returning it. State-changing
// operations call Emit so analytics never fails a user request.
func Emit(ctx context.Context, t Tracker, e Event) {
	if t == nil {
		return
	}
	if err := t.Track(ctx, e); err != nil {
		obs.Logger().Warn("analytics event dropped",
			zap.String("event_type", e.Type),
			zap.Error(err),
		)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Track(context.Context, Event) error { return nil }
