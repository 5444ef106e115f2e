package application

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/apperr"
)

func TestStatusOrder(t *testing.T) {
	all := Statuses()
	require.Len(t, all, 7)
	for i, s := range all {
		assert.Equal(t, i+1, s.Rank(), s)
		assert.True(t, s.Valid())
		if i > 0 {
			assert.True(t, all[i-1].Before(s))
			assert.False(t, s.Before(all[i-1]))
		}
	}
	assert.Equal(t, StatusDraft, all[0])
	assert.Equal(t, StatusRedirected, all[6])
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	s, err := ParseStatus("payment_pending")
	require.NoError(t, err)
	assert.Equal(t, StatusPaymentPending, s)

	for _, raw := range []string{"", "submitted", "DRAFT"} {
		_, err := ParseStatus(raw)
		assert.True(t, errors.Is(err, apperr.ErrValidation), raw)
	}
}

func TestStepSetJSONIsSortedAndDeduplicated(t *testing.T) {
	set, err := NewStepSet(3, 1, 3, 2)
	require.NoError(t, err)
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(raw))

	var back StepSet
	require.NoError(t, json.Unmarshal([]byte(`[5,4,5]`), &back))
	assert.Equal(t, []int{4, 5}, back.Sorted())

	_, err = NewStepSet(0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = NewStepSet(9)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func ptr[T any](v T) *T { return &v }

func day(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fieldsOf(errs []FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateStepReportsMissingFields(t *testing.T) {
	errs, err := ValidateStep(Application{}, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"firstName", "lastName", "dateOfBirth", "placeOfBirth", "gender"},
		fieldsOf(errs))

	_, err = ValidateStep(Application{}, 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ValidateStep(Application{}, 9)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestValidateStepFormats(t *testing.T) {
	app := Application{
		PassportNumber:         ptr("ab"),
		PassportIssuingCountry: ptr("Canada"),
		PassportIssueDate:      day("2020-01-01"),
		PassportExpiryDate:     day("2019-01-01"),
		PhoneNumber:            ptr("+1 (555) 010-2030"),
		AddressLine1:           ptr("1 Main St"),
		City:                   ptr("Toronto"),
		Country:                ptr("Canada"),
		PostalCode:             ptr("M5V 2T6"),
	}
	errs, err := ValidateStep(app, 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"passportNumber", "passportExpiryDate"}, fieldsOf(errs))

	errs, err = ValidateStep(app, 4)
	require.NoError(t, err)
	assert.Empty(t, errs)

	app.PhoneNumber = ptr("012345")
	app.PostalCode = ptr("!!")
	errs, err = ValidateStep(app, 4)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"phoneNumber", "postalCode"}, fieldsOf(errs))
}

func TestValidateStepPassportMustOutlastTrip(t *testing.T) {
	app := Application{
		DestinationCountries: []string{"France"},
		PlannedArrivalDate:   day("2027-06-01"),
		PlannedDepartureDate: day("2027-06-20"),
		PassportExpiryDate:   day("2027-08-01"),
	}
	errs, err := ValidateStep(app, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"passportExpiryDate"}, fieldsOf(errs))

	app.PassportExpiryDate = day("2027-09-20")
	errs, err = ValidateStep(app, 5)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestValidateFinalStepsAggregate(t *testing.T) {
	seven, err := ValidateStep(Application{}, 7)
	require.NoError(t, err)
	eight, err := ValidateStep(Application{}, 8)
	require.NoError(t, err)
	assert.Equal(t, seven, eight)
	assert.Contains(t, fieldsOf(seven), "nationality")
	assert.Contains(t, fieldsOf(seven), "hasDeportationHistory")
}
