package application

import (
	"fmt"
	"regexp"
	"strings"

	"etiasassist.app/internal/apperr"
)

var (
	phonePattern      = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	passportPattern   = regexp.MustCompile(`(?i)^[A-Z0-9]{5,20}$`)
	postalCodePattern = regexp.MustCompile(`(?i)^[A-Z0-9\s-]{3,12}$`)
	phoneSeparators   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// FieldError names one field that keeps a step from being complete.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateStep reports what is missing or malformed for step. It is
// advisory: Update never calls it, clients use it to gate navigation.
// Steps 7 and 8 aggregate every data step.
func ValidateStep(app Application, step int) ([]FieldError, error) {
	if step < FirstStep || step > LastStep {
		return nil, fmt.Errorf("%w: step must be between %d and %d", apperr.ErrValidation, FirstStep, LastStep)
	}
	if step >= 7 {
		var all []FieldError
		for s := FirstStep; s <= 6; s++ {
			all = append(all, validateDataStep(app, s)...)
		}
		return all, nil
	}
	return validateDataStep(app, step), nil
}

func validateDataStep(app Application, step int) []FieldError {
	var errs []FieldError
	require := func(field string, present bool, msg string) {
		if !present {
			errs = append(errs, FieldError{Field: field, Message: msg})
		}
	}

	switch step {
	case 1:
		require("nationality", filled(app.Nationality), "Nationality is required")
		require("hasValidPassport", app.HasValidPassport != nil, "Passport validity is required")
		if app.IsEligible != nil && !*app.IsEligible {
			errs = append(errs, FieldError{Field: "nationality", Message: "Nationality is not eligible for ETIAS"})
		}
	case 2:
		require("firstName", filled(app.FirstName), "First name is required")
		require("lastName", filled(app.LastName), "Last name is required")
		require("dateOfBirth", app.DateOfBirth != nil, "Date of birth is required")
		require("placeOfBirth", filled(app.PlaceOfBirth), "Place of birth is required")
		require("gender", app.Gender != nil, "Gender is required")
	case 3:
		require("passportNumber", filled(app.PassportNumber), "Passport number is required")
		if filled(app.PassportNumber) && !passportPattern.MatchString(*app.PassportNumber) {
			errs = append(errs, FieldError{Field: "passportNumber", Message: "Passport number must be 5-20 letters or digits"})
		}
		require("passportIssuingCountry", filled(app.PassportIssuingCountry), "Issuing country is required")
		require("passportIssueDate", app.PassportIssueDate != nil, "Issue date is required")
		require("passportExpiryDate", app.PassportExpiryDate != nil, "Expiry date is required")
		if app.PassportIssueDate != nil && app.PassportExpiryDate != nil &&
			!app.PassportExpiryDate.After(*app.PassportIssueDate) {
			errs = append(errs, FieldError{Field: "passportExpiryDate", Message: "Expiry date must be after issue date"})
		}
	case 4:
		require("phoneNumber", filled(app.PhoneNumber), "Phone number is required")
		if filled(app.PhoneNumber) && !phonePattern.MatchString(phoneSeparators.Replace(*app.PhoneNumber)) {
			errs = append(errs, FieldError{Field: "phoneNumber", Message: "Phone number is invalid"})
		}
		require("addressLine1", filled(app.AddressLine1), "Address is required")
		require("city", filled(app.City), "City is required")
		require("country", filled(app.Country), "Country is required")
		if filled(app.PostalCode) && !postalCodePattern.MatchString(*app.PostalCode) {
			errs = append(errs, FieldError{Field: "postalCode", Message: "Postal code is invalid"})
		}
	case 5:
		require("destinationCountries", len(app.DestinationCountries) > 0, "Select at least one destination")
		require("plannedArrivalDate", app.PlannedArrivalDate != nil, "Arrival date is required")
		require("plannedDepartureDate", app.PlannedDepartureDate != nil, "Departure date is required")
		if app.PlannedArrivalDate != nil && app.PlannedDepartureDate != nil &&
			app.PlannedDepartureDate.Before(*app.PlannedArrivalDate) {
			errs = append(errs, FieldError{Field: "plannedDepartureDate", Message: "Departure must not precede arrival"})
		}
		if app.PassportExpiryDate != nil && app.PlannedDepartureDate != nil &&
			app.PassportExpiryDate.Before(app.PlannedDepartureDate.AddDate(0, 3, 0)) {
			errs = append(errs, FieldError{Field: "passportExpiryDate", Message: "Passport must be valid for at least 3 months beyond your planned stay"})
		}
	case 6:
		require("hasCriminalRecord", app.HasCriminalRecord != nil, "Please answer the criminal record question")
		require("hasVisaDenied", app.HasVisaDenied != nil, "Please answer the visa refusal question")
		require("hasDeportationHistory", app.HasDeportationHistory != nil, "Please answer the deportation question")
	}
	return errs
}

func filled(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
