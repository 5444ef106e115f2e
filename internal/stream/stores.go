package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"etiasassist.app/internal/application"
	"etiasassist.app/internal/obs"
	"etiasassist.app/internal/payment"
)

// ApplicationStore publishes a StatusEvent after every successful write that
// touches an application's status.
type ApplicationStore struct {
	application.Store
	hub *Hub
}

func WatchApplications(s application.Store, hub *Hub) *ApplicationStore {
	return &ApplicationStore{Store: s, hub: hub}
}

func (s *ApplicationStore) SaveApplication(ctx context.Context, app application.Application) error {
	if err := s.Store.SaveApplication(ctx, app); err != nil {
		return err
	}
	s.hub.Publish(StatusEvent{
		Kind:          KindApplication,
		UserID:        app.UserID,
		ApplicationID: app.ID,
		Status:        string(app.Status),
		Timestamp:     app.UpdatedAt,
	})
	return nil
}

func (s *ApplicationStore) AdvanceStatus(ctx context.Context, id string, to application.Status, at time.Time) (bool, error) {
	changed, err := s.Store.AdvanceStatus(ctx, id, to, at)
	if err != nil || !changed {
		return changed, err
	}
	app, err := s.Store.GetApplication(ctx, id)
	if err != nil {
		obs.Logger().Warn("status event lookup failed", zap.String("application_id", id), zap.Error(err))
		return changed, nil
	}
	s.hub.Publish(StatusEvent{
		Kind:          KindApplication,
		UserID:        app.UserID,
		ApplicationID: id,
		Status:        string(to),
		Timestamp:     at,
	})
	return changed, nil
}

// PaymentStore publishes a StatusEvent for every applied payment transition.
type PaymentStore struct {
	payment.Store
	hub *Hub
}

func WatchPayments(s payment.Store, hub *Hub) *PaymentStore {
	return &PaymentStore{Store: s, hub: hub}
}

func (s *PaymentStore) TransitionPayment(ctx context.Context, id string, t payment.Transition) (bool, error) {
	changed, err := s.Store.TransitionPayment(ctx, id, t)
	if err != nil || !changed {
		return changed, err
	}
	p, err := s.Store.GetPayment(ctx, id)
	if err != nil {
		obs.Logger().Warn("status event lookup failed", zap.String("payment_id", id), zap.Error(err))
		return changed, nil
	}
	s.hub.Publish(StatusEvent{
		Kind:          KindPayment,
		UserID:        p.UserID,
		ApplicationID: p.ApplicationID,
		PaymentID:     p.ID,
		Status:        string(t.To),
		Timestamp:     t.At,
	})
	return changed, nil
}
