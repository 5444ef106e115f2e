package pg

import (
	"context"
	"database/sql"
	"time"

	"etiasassist.app/internal/payment"
)

const paymentColumns = `id, application_id, user_id, amount, currency, status,
	stripe_checkout_session_id, stripe_payment_intent_id, stripe_customer_id,
	payment_method, receipt_url, error_message, created_at, updated_at, completed_at`

func scanPayment(row rowScanner) (payment.Payment, error) {
	var (
		p                         payment.Payment
		status                    string
		session, intent, customer sql.NullString
		method, receipt, errMsg   sql.NullString
		completed                 sql.Null[time.Time]
	)
	if err := row.Scan(&p.ID, &p.ApplicationID, &p.UserID, &p.Amount, &p.Currency, &status,
		&session, &intent, &customer, &method, &receipt, &errMsg,
		&p.CreatedAt, &p.UpdatedAt, &completed); err != nil {
		return payment.Payment{}, err
	}
	p.Status = payment.Status(status)
	p.CheckoutSessionID = session.String
	p.PaymentIntentID = intent.String
	p.CustomerID = customer.String
	p.PaymentMethod = method.String
	p.ReceiptURL = receipt.String
	p.ErrorMessage = errMsg.String
	p.CompletedAt = ptrOf(completed)
	return p, nil
}

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into payments (id, application_id, user_id, amount, currency, status,
			stripe_checkout_session_id, stripe_payment_intent_id, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.ApplicationID, p.UserID, p.Amount, p.Currency, string(p.Status),
		nullIfEmpty(p.CheckoutSessionID), nullIfEmpty(p.PaymentIntentID), p.CreatedAt, p.UpdatedAt)
	return mapErr(err, "payment")
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	if s.db == nil {
		return payment.Payment{}, errNoDB
	}
	p, err := scanPayment(s.db.QueryRowContext(ctx, `select `+paymentColumns+` from payments where id = $1`, id))
	if err != nil {
		return payment.Payment{}, mapErr(err, "payment")
	}
	return p, nil
}

func (s *Store) GetPaymentByIntent(ctx context.Context, intentID string) (payment.Payment, error) {
	if s.db == nil {
		return payment.Payment{}, errNoDB
	}
	p, err := scanPayment(s.db.QueryRowContext(ctx, `select `+paymentColumns+` from payments where stripe_payment_intent_id = $1`, intentID))
	if err != nil {
		return payment.Payment{}, mapErr(err, "payment")
	}
	return p, nil
}

func (s *Store) LatestPayment(ctx context.Context, applicationID string) (payment.Payment, error) {
	if s.db == nil {
		return payment.Payment{}, errNoDB
	}
	p, err := scanPayment(s.db.QueryRowContext(ctx, `
		select `+paymentColumns+`
		from payments
		where application_id = $1
		order by created_at desc, id desc
		limit 1
	`, applicationID))
	if err != nil {
		return payment.Payment{}, mapErr(err, "payment")
	}
	return p, nil
}

func (s *Store) AttachSession(ctx context.Context, id, sessionID string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update payments set stripe_checkout_session_id = $2, updated_at = $3 where id = $1
	`, id, sessionID, at)
	if err != nil {
		return mapErr(err, "payment")
	}
	return requireRow(res, "payment")
}

// TransitionPayment applies the move in one guarded UPDATE: the row must not
// be terminal and must not already hold the target status.
func (s *Store) TransitionPayment(ctx context.Context, id string, t payment.Transition) (bool, error) {
	if s.db == nil {
		return false, errNoDB
	}
	if !t.To.Valid() {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `
		update payments
		set status = $2::text,
			stripe_payment_intent_id = coalesce($3::text, stripe_payment_intent_id),
			stripe_customer_id = coalesce($4::text, stripe_customer_id),
			error_message = coalesce($5::text, error_message),
			updated_at = $6,
			completed_at = case when $2::text = 'succeeded' then $6 else completed_at end
		where id = $1
			and status <> $2::text
			and status not in ('succeeded', 'refunded', 'cancelled')
	`, id, string(t.To), nullIfEmpty(t.IntentID), nullIfEmpty(t.CustomerID), nullIfEmpty(t.ErrorMessage), t.At)
	if err != nil {
		return false, mapErr(err, "payment intent")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	ok, err := s.exists(ctx, "payments", id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, mapErr(sql.ErrNoRows, "payment")
	}
	return false, nil
}
