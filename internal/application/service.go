package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/ids"
	"etiasassist.app/internal/obs"
)

// ErrApplicationNotFound is returned both for absent applications and for
// applications owned by someone else.
var ErrApplicationNotFound = fmt.Errorf("%w: application not found", apperr.ErrNotFound)

const maxTextField = 200

// Notifier is told about new applications and about applications that
// become ready to submit. Failures are logged, never returned.
type Notifier interface {
	ApplicationStarted(ctx context.Context, userID, applicationID string) error
	ApplicationReady(ctx context.Context, userID, applicationID string) error
}

// Service exposes the owner-facing operations.
type Service struct {
	store    Store
	tracker  analytics.Tracker
	notifier Notifier
	now      func() time.Time
}

// ServiceOption configures Service.
type ServiceOption func(*Service) error

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("nil clock")
		}
		s.now = now
		return nil
	}
}

// WithTracker sets where analytics events go.
func WithTracker(t analytics.Tracker) ServiceOption {
	return func(s *Service) error {
		s.tracker = t
		return nil
	}
}

// WithNotifier sets the welcome notification hook.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) error {
		s.notifier = n
		return nil
	}
}

// NewService wires the state machine to its store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("application store is required")
	}
	s := &Service{store: store, tracker: analytics.Nop{}, now: time.Now}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Create starts a draft owned by userID at step 1.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (Application, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Application{}, apperr.ErrUnauthenticated
	}
	nationality := in.Nationality
	if strings.TrimSpace(nationality) == "" || len(nationality) > 100 {
		return Application{}, fmt.Errorf("%w: nationality must be 1..100 characters", apperr.ErrValidation)
	}
	app := Application{
		ID:             ids.New(),
		UserID:         userID,
		Status:         StatusDraft,
		Nationality:    &nationality,
		CurrentStep:    FirstStep,
		CompletedSteps: StepSet{},
	}
	if p := strings.TrimSpace(in.TravelPurpose); p != "" {
		if !eligibility.ValidPurpose(p) {
			return Application{}, fmt.Errorf("%w: unknown travel purpose %q", apperr.ErrValidation, p)
		}
		app.TravelPurpose = &p
	}
	eligible := eligibility.IsEligibleNationality(nationality)
	app.IsEligible = &eligible

	now := s.now().UTC()
	app.CreatedAt, app.UpdatedAt = now, now
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return Application{}, fmt.Errorf("create application: %w", err)
	}

	analytics.Emit(ctx, s.tracker, analytics.Event{
		UserID: userID,
		Type:   analytics.ApplicationStarted,
		Data:   map[string]any{"applicationId": app.ID},
	})
	s.notify(app.ID, "application_started", func(n Notifier) error {
		return n.ApplicationStarted(ctx, userID, app.ID)
	})
	return app, nil
}

// Get returns the application when requesterID owns it.
func (s *Service) Get(ctx context.Context, id, requesterID string) (Application, error) {
	return s.owned(ctx, id, requesterID)
}

// List returns the requester's applications, newest first.
func (s *Service) List(ctx context.Context, requesterID string) ([]Application, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, apperr.ErrUnauthenticated
	}
	return s.store.ListApplications(ctx, requesterID)
}

// Draft returns the requester's newest application still in draft.
func (s *Service) Draft(ctx context.Context, requesterID string) (Application, error) {
	if strings.TrimSpace(requesterID) == "" {
		return Application{}, apperr.ErrUnauthenticated
	}
	app, err := s.store.LatestDraft(ctx, requesterID)
	if errors.Is(err, apperr.ErrNotFound) {
		return Application{}, ErrApplicationNotFound
	}
	return app, err
}

// Update applies patch to an owned application. Status values are taken as
// asserted by the client but must be enumerated, and a redirected
// application stays redirected.
func (s *Service) Update(ctx context.Context, id, requesterID string, patch Patch) (Application, error) {
	app, err := s.owned(ctx, id, requesterID)
	if err != nil {
		return Application{}, err
	}
	prev := app.Status
	if err := apply(&app, patch); err != nil {
		return Application{}, err
	}

	now := s.now().UTC()
	stampStatus(&app, now)
	app.UpdatedAt = now
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return Application{}, fmt.Errorf("save application: %w", err)
	}

	data := map[string]any{"applicationId": app.ID}
	if patch.CurrentStep != nil {
		data["step"] = *patch.CurrentStep
	}
	if patch.Status != nil {
		data["status"] = *patch.Status
	}
	analytics.Emit(ctx, s.tracker, analytics.Event{
		UserID: requesterID,
		Type:   analytics.ApplicationUpdated,
		Data:   data,
	})
	if prev != StatusReadyToSubmit && app.Status == StatusReadyToSubmit {
		s.notify(app.ID, "application_ready", func(n Notifier) error {
			return n.ApplicationReady(ctx, requesterID, app.ID)
		})
	}
	return app, nil
}

// MarkRedirected records the hand-off to the official portal. Repeated calls
// succeed and keep the first redirect time.
func (s *Service) MarkRedirected(ctx context.Context, id, requesterID string) (Application, error) {
	app, err := s.owned(ctx, id, requesterID)
	if err != nil {
		return Application{}, err
	}
	if app.Status == StatusRedirected && app.RedirectedAt != nil {
		return app, nil
	}

	now := s.now().UTC()
	app.Status = StatusRedirected
	stampStatus(&app, now)
	app.UpdatedAt = now
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return Application{}, fmt.Errorf("save application: %w", err)
	}

	analytics.Emit(ctx, s.tracker, analytics.Event{
		UserID: requesterID,
		Type:   analytics.ApplicationRedirected,
		Data:   map[string]any{"applicationId": app.ID},
	})
	return app, nil
}

func (s *Service) notify(applicationID, kind string, fn func(Notifier) error) {
	if s.notifier == nil {
		return
	}
	if err := fn(s.notifier); err != nil {
		obs.Logger().Warn("application notification failed",
			zap.String("application_id", applicationID),
			zap.String("kind", kind),
			zap.Error(err),
		)
	}
}

func (s *Service) owned(ctx context.Context, id, requesterID string) (Application, error) {
	return LoadOwned(ctx, s.store, id, requesterID)
}

// LoadOwned fetches id from store and hides it unless requesterID owns it.
// Payment reconciliation applies the same rule through this helper.
func LoadOwned(ctx context.Context, store Store, id, requesterID string) (Application, error) {
	if strings.TrimSpace(requesterID) == "" {
		return Application{}, apperr.ErrUnauthenticated
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Application{}, ErrApplicationNotFound
	}
	app, err := store.GetApplication(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return Application{}, ErrApplicationNotFound
	}
	if err != nil {
		return Application{}, fmt.Errorf("load application: %w", err)
	}
	if app.UserID != requesterID {
		return Application{}, ErrApplicationNotFound
	}
	return app, nil
}

// stampStatus sets the once-only timestamps implied by the current status.
func stampStatus(app *Application, now time.Time) {
	if app.SubmittedAt == nil && !app.Status.Before(StatusFormCompleted) {
		t := now
		app.SubmittedAt = &t
	}
	if app.RedirectedAt == nil && app.Status == StatusRedirected {
		t := now
		app.RedirectedAt = &t
	}
}

func apply(app *Application, p Patch) error {
	if p.Status != nil {
		status, err := ParseStatus(*p.Status)
		if err != nil {
			return err
		}
		if app.Status == StatusRedirected && status != StatusRedirected {
			return fmt.Errorf("%w: redirected applications cannot change status", apperr.ErrValidation)
		}
		app.Status = status
	}
	if p.CurrentStep != nil {
		if *p.CurrentStep < FirstStep || *p.CurrentStep > LastStep {
			return fmt.Errorf("%w: currentStep must be between %d and %d", apperr.ErrValidation, FirstStep, LastStep)
		}
		app.CurrentStep = *p.CurrentStep
	}
	if p.CompletedSteps != nil {
		set, err := NewStepSet(p.CompletedSteps...)
		if err != nil {
			return err
		}
		app.CompletedSteps = set
	}

	if p.HasValidPassport != nil {
		app.HasValidPassport = p.HasValidPassport
	}
	if p.TravelPurpose != nil {
		purpose := strings.TrimSpace(*p.TravelPurpose)
		if !eligibility.ValidPurpose(purpose) {
			return fmt.Errorf("%w: unknown travel purpose %q", apperr.ErrValidation, purpose)
		}
		app.TravelPurpose = &purpose
	}
	if p.DestinationCountries != nil {
		seen := make(map[string]struct{}, len(p.DestinationCountries))
		countries := make([]string, 0, len(p.DestinationCountries))
		for _, c := range p.DestinationCountries {
			if !eligibility.IsSchengenCountry(c) {
				return fmt.Errorf("%w: %q is not a Schengen country", apperr.ErrValidation, c)
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			countries = append(countries, c)
		}
		app.DestinationCountries = countries
	}
	if p.PlannedArrivalDate != nil {
		app.PlannedArrivalDate = p.PlannedArrivalDate
	}
	if p.PlannedDepartureDate != nil {
		app.PlannedDepartureDate = p.PlannedDepartureDate
	}
	if p.Gender != nil {
		g := Gender(*p.Gender)
		if !g.Valid() {
			return fmt.Errorf("%w: unknown gender %q", apperr.ErrValidation, *p.Gender)
		}
		app.Gender = &g
	}
	if p.DateOfBirth != nil {
		app.DateOfBirth = p.DateOfBirth
	}
	if p.PassportIssueDate != nil {
		app.PassportIssueDate = p.PassportIssueDate
	}
	if p.PassportExpiryDate != nil {
		app.PassportExpiryDate = p.PassportExpiryDate
	}

	texts := []struct {
		name string
		src  *string
		dst  **string
	}{
		{"firstName", p.FirstName, &app.FirstName},
		{"lastName", p.LastName, &app.LastName},
		{"placeOfBirth", p.PlaceOfBirth, &app.PlaceOfBirth},
		{"passportNumber", p.PassportNumber, &app.PassportNumber},
		{"passportIssuingCountry", p.PassportIssuingCountry, &app.PassportIssuingCountry},
		{"phoneNumber", p.PhoneNumber, &app.PhoneNumber},
		{"addressLine1", p.AddressLine1, &app.AddressLine1},
		{"addressLine2", p.AddressLine2, &app.AddressLine2},
		{"city", p.City, &app.City},
		{"postalCode", p.PostalCode, &app.PostalCode},
		{"country", p.Country, &app.Country},
		{"emergencyContactName", p.EmergencyContactName, &app.EmergencyContactName},
		{"emergencyContactPhone", p.EmergencyContactPhone, &app.EmergencyContactPhone},
	}
	for _, f := range texts {
		if f.src == nil {
			continue
		}
		v := strings.TrimSpace(*f.src)
		if len(v) > maxTextField {
			return fmt.Errorf("%w: %s exceeds %d characters", apperr.ErrValidation, f.name, maxTextField)
		}
		*f.dst = &v
	}
	if p.AccommodationAddress != nil {
		v := strings.TrimSpace(*p.AccommodationAddress)
		app.AccommodationAddress = &v
	}

	if p.HasCriminalRecord != nil {
		app.HasCriminalRecord = p.HasCriminalRecord
	}
	if p.HasVisaDenied != nil {
		app.HasVisaDenied = p.HasVisaDenied
	}
	if p.HasDeportationHistory != nil {
		app.HasDeportationHistory = p.HasDeportationHistory
	}
	return nil
}
