// Package eligibility decides whether a traveler needs and may apply for
// ETIAS authorization, and keeps an audit trail of every decision.
package eligibility

import (
	"context"
	"fmt"
	"strings"
	"time"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/ids"
)

const (
	nextStepsEligible   = "You can proceed with your ETIAS application preparation."
	nextStepsIneligible = "Please check the visa requirements for your nationality."
	reasonNoPassport    = "You need a valid passport to apply for ETIAS. Please ensure your passport is valid for at least 3 months beyond your planned stay."
)

// Decision is the outcome of Evaluate.
type Decision struct {
	IsEligible   bool   `json:"isEligible"`
	Reason       string `json:"reason"`
	RequiresVisa bool   `json:"requiresVisa"`
	NextSteps    string `json:"nextSteps"`
}

// Evaluate applies the checks in order; the first failing check decides.
// The travel purpose does not influence the outcome.
func Evaluate(nationality string, hasValidPassport bool, _ string) Decision {
	if !IsEligibleNationality(nationality) {
		return Decision{
			IsEligible:   false,
			RequiresVisa: true,
			Reason: fmt.Sprintf("Citizens of %s do not require ETIAS authorization. "+
				"Your country may require a Schengen visa instead, or you may be an EU/EEA citizen "+
				"who does not need travel authorization.", nationality),
			NextSteps: nextStepsIneligible,
		}
	}
	if !hasValidPassport {
		return Decision{
			IsEligible:   false,
			RequiresVisa: false,
			Reason:       reasonNoPassport,
			NextSteps:    nextStepsIneligible,
		}
	}
	return Decision{
		IsEligible:   true,
		RequiresVisa: false,
		Reason: fmt.Sprintf("As a citizen of %s, you are eligible to apply for ETIAS authorization "+
			"for travel to the Schengen Area.", nationality),
		NextSteps: nextStepsEligible,
	}
}

// Check is the immutable audit record of one evaluation.
type Check struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	Nationality      string    `json:"nationality"`
	HasValidPassport bool      `json:"hasValidPassport"`
	TravelPurpose    string    `json:"travelPurpose,omitempty"`
	IsEligible       bool      `json:"isEligible"`
	Reason           string    `json:"reason"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store appends audit records. Records are never updated.
type Store interface {
	InsertCheck(ctx context.Context, c Check) error
}

// Request is the input of Checker.Check. UserID and SessionID are optional.
type Request struct {
	Nationality      string `json:"nationality"`
	HasValidPassport bool   `json:"hasValidPassport"`
	TravelPurpose    string `json:"travelPurpose,omitempty"`
	UserID           string `json:"-"`
	SessionID        string `json:"-"`
}

// Checker evaluates requests and records the side effects.
type Checker struct {
	store   Store
	tracker analytics.Tracker
	now     func() time.Time
}

// NewChecker wires a Checker. tracker may be nil.
func NewChecker(store Store, tracker analytics.Tracker) *Checker {
	return &Checker{store: store, tracker: tracker, now: time.Now}
}

// Check validates req, evaluates it, stores the audit record and emits an
// analytics event.
func (c *Checker) Check(ctx context.Context, req Request) (Decision, error) {
	// Membership is exact; trimming only decides emptiness.
	nationality := req.Nationality
	if strings.TrimSpace(nationality) == "" {
		return Decision{}, fmt.Errorf("%w: nationality is required", apperr.ErrValidation)
	}
	if len(nationality) > 100 {
		return Decision{}, fmt.Errorf("%w: nationality is too long", apperr.ErrValidation)
	}
	purpose := strings.TrimSpace(req.TravelPurpose)
	if purpose != "" && !ValidPurpose(purpose) {
		return Decision{}, fmt.Errorf("%w: unknown travel purpose %q", apperr.ErrValidation, purpose)
	}

	decision := Evaluate(nationality, req.HasValidPassport, purpose)

	record := Check{
		ID:               ids.New(),
		UserID:           req.UserID,
		SessionID:        req.SessionID,
		Nationality:      nationality,
		HasValidPassport: req.HasValidPassport,
		TravelPurpose:    purpose,
		IsEligible:       decision.IsEligible,
		Reason:           decision.Reason,
		CreatedAt:        c.now().UTC(),
	}
	if err := c.store.InsertCheck(ctx, record); err != nil {
		return Decision{}, fmt.Errorf("record eligibility check: %w", err)
	}

	analytics.Emit(ctx, c.tracker, analytics.Event{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Type:      analytics.EligibilityCheck,
		Data: map[string]any{
			"nationality":      nationality,
			"hasValidPassport": req.HasValidPassport,
			"travelPurpose":    purpose,
			"isEligible":       decision.IsEligible,
		},
	})
	return decision, nil
}
