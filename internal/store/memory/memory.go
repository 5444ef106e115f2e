// Package memory keeps every record in process memory. It backs development
// runs without a database and the package tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"etiasassist.app/internal/admin"
	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/notify"
	"etiasassist.app/internal/payment"
)

// Store implements every store interface of the service.
type Store struct {
	mu            sync.RWMutex
	users         map[string]auth.User
	apps          map[string]application.Application
	payments      map[string]payment.Payment
	checks        []eligibility.Check
	events        []analytics.Event
	notifications map[string]notify.Notification
}

var (
	_ auth.UserStore    = (*Store)(nil)
	_ application.Store = (*Store)(nil)
	_ payment.Store     = (*Store)(nil)
	_ eligibility.Store = (*Store)(nil)
	_ analytics.Store   = (*Store)(nil)
	_ notify.Store      = (*Store)(nil)
	_ admin.Source      = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:         make(map[string]auth.User),
		apps:          make(map[string]application.Application),
		payments:      make(map[string]payment.Payment),
		notifications: make(map[string]notify.Notification),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", apperr.ErrNotFound, kind, id)
}

func newerFirst(aTime, bTime time.Time, aID, bID string) bool {
	if !aTime.Equal(bTime) {
		return aTime.After(bTime)
	}
	return aID > bID
}

func limited[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// Users

func (s *Store) CreateUser(_ context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("%w: user %s exists", apperr.ErrConflict, u.ID)
	}
	if s.emailTaken(u.Email, "") {
		return fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) emailTaken(email, exceptID string) bool {
	for id, u := range s.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (s *Store) GetUser(_ context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return auth.User{}, notFound("user", email)
}

func (s *Store) ListUsers(_ context.Context, limit int) ([]auth.User, error) {
	s.mu.RLock()
	out := make([]auth.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return limited(out, limit), nil
}

func (s *Store) SaveUser(_ context.Context, u auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return notFound("user", u.ID)
	}
	if s.emailTaken(u.Email, u.ID) {
		return fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	}
	s.users[u.ID] = u
	return nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	return nil
}

// Applications

func (s *Store) CreateApplication(_ context.Context, app application.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; ok {
		return fmt.Errorf("%w: application %s exists", apperr.ErrConflict, app.ID)
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return application.Application{}, notFound("application", id)
	}
	return app.Clone(), nil
}

func (s *Store) sortedApps(keep func(application.Application) bool) []application.Application {
	out := make([]application.Application, 0)
	for _, app := range s.apps {
		if keep(app) {
			out = append(out, app.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

func (s *Store) ListApplications(_ context.Context, userID string) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedApps(func(a application.Application) bool { return a.UserID == userID }), nil
}

func (s *Store) ListAllApplications(_ context.Context, limit int) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return limited(s.sortedApps(func(application.Application) bool { return true }), limit), nil
}

func (s *Store) LatestDraft(_ context.Context, userID string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	drafts := s.sortedApps(func(a application.Application) bool {
		return a.UserID == userID && a.Status == application.StatusDraft
	})
	if len(drafts) == 0 {
		return application.Application{}, notFound("draft for user", userID)
	}
	return drafts[0], nil
}

func (s *Store) SaveApplication(_ context.Context, app application.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; !ok {
		return notFound("application", app.ID)
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

func (s *Store) AdvanceStatus(_ context.Context, id string, to application.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.apps[id]
	if !ok {
		return false, notFound("application", id)
	}
	if !app.Status.Before(to) {
		return false, nil
	}
	app.Status = to
	app.UpdatedAt = at
	if app.SubmittedAt == nil && !to.Before(application.StatusFormCompleted) {
		t := at
		app.SubmittedAt = &t
	}
	s.apps[id] = app
	return true, nil
}

// Payments

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return fmt.Errorf("%w: payment %s exists", apperr.ErrConflict, p.ID)
	}
	if p.PaymentIntentID != "" && s.intentTaken(p.PaymentIntentID, "") {
		return fmt.Errorf("%w: payment intent already recorded", apperr.ErrConflict)
	}
	s.payments[p.ID] = p
	return nil
}

func (s *Store) intentTaken(intentID, exceptID string) bool {
	for id, p := range s.payments {
		if id != exceptID && p.PaymentIntentID == intentID {
			return true
		}
	}
	return false
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, notFound("payment", id)
	}
	return p, nil
}

func (s *Store) GetPaymentByIntent(_ context.Context, intentID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if intentID != "" {
		for _, p := range s.payments {
			if p.PaymentIntentID == intentID {
				return p, nil
			}
		}
	}
	return payment.Payment{}, notFound("payment intent", intentID)
}

func (s *Store) LatestPayment(_ context.Context, applicationID string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  payment.Payment
		found bool
	)
	for _, p := range s.payments {
		if p.ApplicationID != applicationID {
			continue
		}
		if !found || newerFirst(p.CreatedAt, best.CreatedAt, p.ID, best.ID) {
			best, found = p, true
		}
	}
	if !found {
		return payment.Payment{}, notFound("payment for application", applicationID)
	}
	return best, nil
}

func (s *Store) AttachSession(_ context.Context, id, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return notFound("payment", id)
	}
	p.CheckoutSessionID = sessionID
	p.UpdatedAt = at
	s.payments[id] = p
	return nil
}

func (s *Store) TransitionPayment(_ context.Context, id string, t payment.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return false, notFound("payment", id)
	}
	if !payment.CanTransition(p.Status, t.To) {
		return false, nil
	}
	if t.IntentID != "" && p.PaymentIntentID != t.IntentID {
		if s.intentTaken(t.IntentID, id) {
			return false, fmt.Errorf("%w: payment intent already recorded", apperr.ErrConflict)
		}
		p.PaymentIntentID = t.IntentID
	}
	if t.CustomerID != "" {
		p.CustomerID = t.CustomerID
	}
	if t.ErrorMessage != "" {
		p.ErrorMessage = t.ErrorMessage
	}
	p.Status = t.To
	p.UpdatedAt = t.At
	if t.To == payment.StatusSucceeded {
		at := t.At
		p.CompletedAt = &at
	}
	s.payments[id] = p
	return true, nil
}

func (s *Store) PaymentTotals(context.Context) (admin.PaymentTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := admin.PaymentTotals{ByStatus: make(map[string]int64)}
	for _, p := range s.payments {
		out.ByStatus[string(p.Status)]++
		if p.Status == payment.StatusSucceeded {
			out.SucceededAmount += p.Amount
		}
	}
	return out, nil
}

// Eligibility checks

func (s *Store) InsertCheck(_ context.Context, c eligibility.Check) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, c)
	return nil
}

// Checks returns a copy of the recorded eligibility checks.
func (s *Store) Checks() []eligibility.Check {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eligibility.Check(nil), s.checks...)
}

func (s *Store) EligibilityTotals(context.Context) (admin.EligibilityTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out admin.EligibilityTotals
	for _, c := range s.checks {
		if c.IsEligible {
			out.Eligible++
		} else {
			out.Ineligible++
		}
	}
	return out, nil
}

// Analytics

func (s *Store) InsertEvent(_ context.Context, e analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded analytics events.
func (s *Store) Events() []analytics.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]analytics.Event(nil), s.events...)
}

func (s *Store) DailyEventCounts(_ context.Context, since time.Time) ([]admin.DayCount, error) {
	s.mu.RLock()
	counts := make(map[string]int64)
	for _, e := range s.events {
		if e.CreatedAt.Before(since) {
			continue
		}
		counts[e.CreatedAt.UTC().Format(time.DateOnly)]++
	}
	s.mu.RUnlock()

	out := make([]admin.DayCount, 0, len(counts))
	for d, n := range counts {
		out = append(out, admin.DayCount{Date: d, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) EventCountsByType(_ context.Context, from, to *time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for _, e := range s.events {
		if from != nil && e.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && e.CreatedAt.After(*to) {
			continue
		}
		out[e.Type]++
	}
	return out, nil
}

// Notifications

func (s *Store) InsertNotification(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notifications[n.ID]; ok {
		return fmt.Errorf("%w: notification %s exists", apperr.ErrConflict, n.ID)
	}
	s.notifications[n.ID] = n
	return nil
}

func (s *Store) MarkNotification(_ context.Context, id string, status notify.Status, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return notFound("notification", id)
	}
	n.Status = status
	n.SentAt = sentAt
	s.notifications[id] = n
	return nil
}

// Notifications returns every notification record, oldest first.
func (s *Store) Notifications() []notify.Notification {
	s.mu.RLock()
	out := make([]notify.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return newerFirst(out[j].CreatedAt, out[i].CreatedAt, out[j].ID, out[i].ID)
	})
	return out
}

// Counts

func (s *Store) CountUsers(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) CountApplicationsByStatus(context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int64)
	for _, app := range s.apps {
		out[string(app.Status)]++
	}
	return out, nil
}
