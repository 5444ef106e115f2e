// Package application owns the lifecycle of an ETIAS application: the ordered
// status progression, the step cursor and the owner-only patching of
// applicant data.
package application

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"etiasassist.app/internal/apperr"
)

// Status is the position of an application in its lifecycle.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusEligibilityChecked Status = "eligibility_checked"
	StatusFormCompleted      Status = "form_completed"
	StatusPaymentPending     Status = "payment_pending"
	StatusPaymentCompleted   Status = "payment_completed"
	StatusReadyToSubmit      Status = "ready_to_submit"
	StatusRedirected         Status = "redirected"
)

var statusOrder = []Status{
	StatusDraft,
	StatusEligibilityChecked,
	StatusFormCompleted,
	StatusPaymentPending,
	StatusPaymentCompleted,
	StatusReadyToSubmit,
	StatusRedirected,
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return append([]Status(nil), statusOrder...)
}

// Rank is the 1-based position of s in the lifecycle, 0 when s is unknown.
func (s Status) Rank() int {
	for i, known := range statusOrder {
		if known == s {
			return i + 1
		}
	}
	return 0
}

// Valid reports whether s is enumerated.
func (s Status) Valid() bool { return s.Rank() > 0 }

// Before reports whether s comes strictly earlier than other.
func (s Status) Before(other Status) bool { return s.Rank() < other.Rank() }

// ParseStatus rejects anything but the enumerated values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", apperr.ErrValidation, raw)
	}
	return s, nil
}

// Gender is the applicant's declared gender.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale || g == GenderOther
}

const (
	FirstStep = 1
	LastStep  = 8
)

// Step names, indexed by step number.
var stepTitles = map[int]string{
	1: "Eligibility",
	2: "Personal Info",
	3: "Passport",
	4: "Contact",
	5: "Travel",
	6: "Security",
	7: "Review",
	8: "Payment",
}

// StepTitle returns the display name of step, or "" when out of range.
func StepTitle(step int) string { return stepTitles[step] }

// StepSet is a set of completed step numbers. It serializes as a sorted array.
type StepSet map[int]struct{}

// NewStepSet builds a set from steps; out-of-range values are rejected.
func NewStepSet(steps ...int) (StepSet, error) {
	set := make(StepSet, len(steps))
	for _, s := range steps {
		if s < FirstStep || s > LastStep {
			return nil, fmt.Errorf("%w: step %d out of range %d..%d", apperr.ErrValidation, s, FirstStep, LastStep)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

// Has reports membership.
func (s StepSet) Has(step int) bool {
	_, ok := s[step]
	return ok
}

// Sorted returns the members in ascending order.
func (s StepSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for step := range s {
		out = append(out, step)
	}
	sort.Ints(out)
	return out
}

func (s StepSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StepSet) UnmarshalJSON(data []byte) error {
	var steps []int
	if err := json.Unmarshal(data, &steps); err != nil {
		return err
	}
	set, err := NewStepSet(steps...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Application is one user's authorization preparation.
type Application struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`
	Status Status `json:"status"`

	Nationality          *string    `json:"nationality"`
	HasValidPassport     *bool      `json:"hasValidPassport"`
	TravelPurpose        *string    `json:"travelPurpose"`
	DestinationCountries []string   `json:"destinationCountries"`
	PlannedArrivalDate   *time.Time `json:"plannedArrivalDate"`
	PlannedDepartureDate *time.Time `json:"plannedDepartureDate"`
	IsEligible           *bool      `json:"isEligible"`

	FirstName    *string    `json:"firstName"`
	LastName     *string    `json:"lastName"`
	DateOfBirth  *time.Time `json:"dateOfBirth"`
	PlaceOfBirth *string    `json:"placeOfBirth"`
	Gender       *Gender    `json:"gender"`

	PassportNumber         *string    `json:"passportNumber"`
	PassportIssuingCountry *string    `json:"passportIssuingCountry"`
	PassportIssueDate      *time.Time `json:"passportIssueDate"`
	PassportExpiryDate     *time.Time `json:"passportExpiryDate"`

	PhoneNumber  *string `json:"phoneNumber"`
	AddressLine1 *string `json:"addressLine1"`
	AddressLine2 *string `json:"addressLine2"`
	City         *string `json:"city"`
	PostalCode   *string `json:"postalCode"`
	Country      *string `json:"country"`

	AccommodationAddress  *string `json:"accommodationAddress"`
	EmergencyContactName  *string `json:"emergencyContactName"`
	EmergencyContactPhone *string `json:"emergencyContactPhone"`

	HasCriminalRecord     *bool `json:"hasCriminalRecord"`
	HasVisaDenied         *bool `json:"hasVisaDenied"`
	HasDeportationHistory *bool `json:"hasDeportationHistory"`

	CurrentStep    int     `json:"currentStep"`
	CompletedSteps StepSet `json:"completedSteps"`

	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	SubmittedAt  *time.Time `json:"submittedAt"`
	RedirectedAt *time.Time `json:"redirectedAt"`
}

// Clone returns a deep copy so stores can hand out values safely.
func (a Application) Clone() Application {
	out := a
	if a.DestinationCountries != nil {
		out.DestinationCountries = append([]string(nil), a.DestinationCountries...)
	}
	out.CompletedSteps = make(StepSet, len(a.CompletedSteps))
	for s := range a.CompletedSteps {
		out.CompletedSteps[s] = struct{}{}
	}
	return out
}

// Patch is a sparse update: nil fields are left untouched.
type Patch struct {
	HasValidPassport     *bool      `json:"hasValidPassport,omitempty"`
	TravelPurpose        *string    `json:"travelPurpose,omitempty"`
	DestinationCountries []string   `json:"destinationCountries,omitempty"`
	PlannedArrivalDate   *time.Time `json:"plannedArrivalDate,omitempty"`
	PlannedDepartureDate *time.Time `json:"plannedDepartureDate,omitempty"`

	FirstName    *string    `json:"firstName,omitempty"`
	LastName     *string    `json:"lastName,omitempty"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	PlaceOfBirth *string    `json:"placeOfBirth,omitempty"`
	Gender       *string    `json:"gender,omitempty"`

	PassportNumber         *string    `json:"passportNumber,omitempty"`
	PassportIssuingCountry *string    `json:"passportIssuingCountry,omitempty"`
	PassportIssueDate      *time.Time `json:"passportIssueDate,omitempty"`
	PassportExpiryDate     *time.Time `json:"passportExpiryDate,omitempty"`

	PhoneNumber  *string `json:"phoneNumber,omitempty"`
	AddressLine1 *string `json:"addressLine1,omitempty"`
	AddressLine2 *string `json:"addressLine2,omitempty"`
	City         *string `json:"city,omitempty"`
	PostalCode   *string `json:"postalCode,omitempty"`
	Country      *string `json:"country,omitempty"`

	AccommodationAddress  *string `json:"accommodationAddress,omitempty"`
	EmergencyContactName  *string `json:"emergencyContactName,omitempty"`
	EmergencyContactPhone *string `json:"emergencyContactPhone,omitempty"`

	HasCriminalRecord     *bool `json:"hasCriminalRecord,omitempty"`
	HasVisaDenied         *bool `json:"hasVisaDenied,omitempty"`
	HasDeportationHistory *bool `json:"hasDeportationHistory,omitempty"`

	CurrentStep    *int    `json:"currentStep,omitempty"`
	CompletedSteps []int   `json:"completedSteps,omitempty"`
	Status         *string `json:"status,omitempty"`
}

// CreateInput starts a new application.
type CreateInput struct {
	Nationality   string `json:"nationality"`
	TravelPurpose string `json:"travelPurpose,omitempty"`
}
