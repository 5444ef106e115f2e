package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"etiasassist.app/internal/application"
)

// mutableColumns are written by both insert and update, in applicationArgs order.
var mutableColumns = []string{
	"current_step", "completed_steps",
	"nationality", "has_valid_passport", "travel_purpose", "destination_countries",
	"planned_arrival_date", "planned_departure_date", "is_eligible",
	"first_name", "last_name", "date_of_birth", "place_of_birth", "gender",
	"passport_number", "passport_issuing_country", "passport_issue_date", "passport_expiry_date",
	"phone_number", "address_line1", "address_line2", "city", "postal_code", "country",
	"accommodation_address", "emergency_contact_name", "emergency_contact_phone",
	"has_criminal_record", "has_visa_denied", "has_deportation_history",
	"updated_at", "submitted_at", "redirected_at",
}

var (
	applicationColumns = "id, user_id, status, created_at, " + strings.Join(mutableColumns, ", ")

	insertApplicationSQL = fmt.Sprintf(`insert into applications (id, user_id, status, status_rank, created_at, %s) values (%s)`,
		strings.Join(mutableColumns, ", "), placeholders(1, 5+len(mutableColumns)))

	updateApplicationSQL = fmt.Sprintf(`update applications set status = $2, status_rank = $3, %s where id = $1`,
		assignments(mutableColumns, 4))
)

func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}

func assignments(cols []string, from int) string {
	as := make([]string, len(cols))
	for i, c := range cols {
		as[i] = fmt.Sprintf("%s = $%d", c, from+i)
	}
	return strings.Join(as, ", ")
}

// applicationRow holds one scanned row before conversion.
type applicationRow struct {
	id, userID, status string
	createdAt          time.Time

	currentStep    int
	completedSteps []byte

	nationality          sql.Null[string]
	hasValidPassport     sql.Null[bool]
	travelPurpose        sql.Null[string]
	destinationCountries []byte
	plannedArrival       sql.Null[time.Time]
	plannedDeparture     sql.Null[time.Time]
	isEligible           sql.Null[bool]

	firstName, lastName sql.Null[string]
	dateOfBirth         sql.Null[time.Time]
	placeOfBirth        sql.Null[string]
	gender              sql.Null[string]

	passportNumber, passportIssuingCountry sql.Null[string]
	passportIssueDate, passportExpiryDate  sql.Null[time.Time]

	phoneNumber, addressLine1, addressLine2, city, postalCode, country sql.Null[string]

	accommodationAddress, emergencyContactName, emergencyContactPhone sql.Null[string]

	hasCriminalRecord, hasVisaDenied, hasDeportationHistory sql.Null[bool]

	updatedAt                 time.Time
	submittedAt, redirectedAt sql.Null[time.Time]
}

func (r *applicationRow) dest() []any {
	return []any{
		&r.id, &r.userID, &r.status, &r.createdAt,
		&r.currentStep, &r.completedSteps,
		&r.nationality, &r.hasValidPassport, &r.travelPurpose, &r.destinationCountries,
		&r.plannedArrival, &r.plannedDeparture, &r.isEligible,
		&r.firstName, &r.lastName, &r.dateOfBirth, &r.placeOfBirth, &r.gender,
		&r.passportNumber, &r.passportIssuingCountry, &r.passportIssueDate, &r.passportExpiryDate,
		&r.phoneNumber, &r.addressLine1, &r.addressLine2, &r.city, &r.postalCode, &r.country,
		&r.accommodationAddress, &r.emergencyContactName, &r.emergencyContactPhone,
		&r.hasCriminalRecord, &r.hasVisaDenied, &r.hasDeportationHistory,
		&r.updatedAt, &r.submittedAt, &r.redirectedAt,
	}
}

func (r *applicationRow) toApplication() (application.Application, error) {
	app := application.Application{
		ID:          r.id,
		UserID:      r.userID,
		Status:      application.Status(r.status),
		CurrentStep: r.currentStep,

		Nationality:      ptrOf(r.nationality),
		HasValidPassport: ptrOf(r.hasValidPassport),
		TravelPurpose:    ptrOf(r.travelPurpose),

		PlannedArrivalDate:   ptrOf(r.plannedArrival),
		PlannedDepartureDate: ptrOf(r.plannedDeparture),
		IsEligible:           ptrOf(r.isEligible),

		FirstName:    ptrOf(r.firstName),
		LastName:     ptrOf(r.lastName),
		DateOfBirth:  ptrOf(r.dateOfBirth),
		PlaceOfBirth: ptrOf(r.placeOfBirth),

		PassportNumber:         ptrOf(r.passportNumber),
		PassportIssuingCountry: ptrOf(r.passportIssuingCountry),
		PassportIssueDate:      ptrOf(r.passportIssueDate),
		PassportExpiryDate:     ptrOf(r.passportExpiryDate),

		PhoneNumber:  ptrOf(r.phoneNumber),
		AddressLine1: ptrOf(r.addressLine1),
		AddressLine2: ptrOf(r.addressLine2),
		City:         ptrOf(r.city),
		PostalCode:   ptrOf(r.postalCode),
		Country:      ptrOf(r.country),

		AccommodationAddress:  ptrOf(r.accommodationAddress),
		EmergencyContactName:  ptrOf(r.emergencyContactName),
		EmergencyContactPhone: ptrOf(r.emergencyContactPhone),

		HasCriminalRecord:     ptrOf(r.hasCriminalRecord),
		HasVisaDenied:         ptrOf(r.hasVisaDenied),
		HasDeportationHistory: ptrOf(r.hasDeportationHistory),

		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
		SubmittedAt:  ptrOf(r.submittedAt),
		RedirectedAt: ptrOf(r.redirectedAt),
	}
	if r.gender.Valid {
		g := application.Gender(r.gender.V)
		app.Gender = &g
	}
	app.CompletedSteps = application.StepSet{}
	if len(r.completedSteps) > 0 {
		if err := json.Unmarshal(r.completedSteps, &app.CompletedSteps); err != nil {
			return application.Application{}, fmt.Errorf("decode completed_steps: %w", err)
		}
	}
	if len(r.destinationCountries) > 0 {
		if err := json.Unmarshal(r.destinationCountries, &app.DestinationCountries); err != nil {
			return application.Application{}, fmt.Errorf("decode destination_countries: %w", err)
		}
	}
	return app, nil
}

func scanApplication(row rowScanner) (application.Application, error) {
	var r applicationRow
	if err := row.Scan(r.dest()...); err != nil {
		return application.Application{}, err
	}
	return r.toApplication()
}

// applicationArgs returns the values of mutableColumns in order.
func applicationArgs(app application.Application) ([]any, error) {
	steps, err := json.Marshal(app.CompletedSteps)
	if err != nil {
		return nil, fmt.Errorf("encode completed_steps: %w", err)
	}
	var countries []byte
	if app.DestinationCountries != nil {
		if countries, err = json.Marshal(app.DestinationCountries); err != nil {
			return nil, fmt.Errorf("encode destination_countries: %w", err)
		}
	}
	var gender sql.Null[string]
	if app.Gender != nil {
		gender = sql.Null[string]{V: string(*app.Gender), Valid: true}
	}
	return []any{
		app.CurrentStep, steps,
		nullOf(app.Nationality), nullOf(app.HasValidPassport), nullOf(app.TravelPurpose), countries,
		nullOf(app.PlannedArrivalDate), nullOf(app.PlannedDepartureDate), nullOf(app.IsEligible),
		nullOf(app.FirstName), nullOf(app.LastName), nullOf(app.DateOfBirth), nullOf(app.PlaceOfBirth), gender,
		nullOf(app.PassportNumber), nullOf(app.PassportIssuingCountry), nullOf(app.PassportIssueDate), nullOf(app.PassportExpiryDate),
		nullOf(app.PhoneNumber), nullOf(app.AddressLine1), nullOf(app.AddressLine2), nullOf(app.City), nullOf(app.PostalCode), nullOf(app.Country),
		nullOf(app.AccommodationAddress), nullOf(app.EmergencyContactName), nullOf(app.EmergencyContactPhone),
		nullOf(app.HasCriminalRecord), nullOf(app.HasVisaDenied), nullOf(app.HasDeportationHistory),
		app.UpdatedAt, nullOf(app.SubmittedAt), nullOf(app.RedirectedAt),
	}, nil
}

func (s *Store) CreateApplication(ctx context.Context, app application.Application) error {
	if s.db == nil {
		return errNoDB
	}
	rest, err := applicationArgs(app)
	if err != nil {
		return err
	}
	args := append([]any{app.ID, app.UserID, string(app.Status), app.Status.Rank(), app.CreatedAt}, rest...)
	_, err = s.db.ExecContext(ctx, insertApplicationSQL, args...)
	return mapErr(err, "application")
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	if s.db == nil {
		return application.Application{}, errNoDB
	}
	app, err := scanApplication(s.db.QueryRowContext(ctx, `select `+applicationColumns+` from applications where id = $1`, id))
	if err != nil {
		return application.Application{}, mapErr(err, "application")
	}
	return app, nil
}

func (s *Store) queryApplications(ctx context.Context, query string, args ...any) ([]application.Application, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []application.Application{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func (s *Store) ListApplications(ctx context.Context, userID string) ([]application.Application, error) {
	return s.queryApplications(ctx, `
		select `+applicationColumns+`
		from applications
		where user_id = $1
		order by created_at desc, id desc
	`, userID)
}

func (s *Store) ListAllApplications(ctx context.Context, limit int) ([]application.Application, error) {
	return s.queryApplications(ctx, `
		select `+applicationColumns+`
		from applications
		order by created_at desc, id desc
		limit $1
	`, limitArg(limit))
}

func (s *Store) LatestDraft(ctx context.Context, userID string) (application.Application, error) {
	apps, err := s.queryApplications(ctx, `
		select `+applicationColumns+`
		from applications
		where user_id = $1 and status = 'draft'
		order by created_at desc, id desc
		limit 1
	`, userID)
	if err != nil {
		return application.Application{}, err
	}
	if len(apps) == 0 {
		return application.Application{}, mapErr(sql.ErrNoRows, "draft application")
	}
	return apps[0], nil
}

func (s *Store) SaveApplication(ctx context.Context, app application.Application) error {
	if s.db == nil {
		return errNoDB
	}
	rest, err := applicationArgs(app)
	if err != nil {
		return err
	}
	args := append([]any{app.ID, string(app.Status), app.Status.Rank()}, rest...)
	res, err := s.db.ExecContext(ctx, updateApplicationSQL, args...)
	if err != nil {
		return mapErr(err, "application")
	}
	return requireRow(res, "application")
}

// AdvanceStatus is a single guarded UPDATE: the row only changes when its
// current rank is below the target.
func (s *Store) AdvanceStatus(ctx context.Context, id string, to application.Status, at time.Time) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update applications
		set status = $2,
			status_rank = $3::smallint,
			updated_at = $4,
			submitted_at = case when submitted_at is null and $3::smallint >= $5::smallint then $4 else submitted_at end
		where id = $1 and status_rank < $3::smallint
	`, id, string(to), to.Rank(), at, application.StatusFormCompleted.Rank())
	if err != nil {
		return false, mapErr(err, "application")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	ok, err := s.exists(ctx, "applications", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, mapErr(sql.ErrNoRows, "application")
	}
	return false, nil
}
