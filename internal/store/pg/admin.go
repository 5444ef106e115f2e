package pg

import (
	"context"
	"time"

	"etiasassist.app/internal/admin"
)

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&n)
	return n, err
}

func (s *Store) groupCount(ctx context.Context, query string, args ...any) (map[string]int64, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			n   int64
		)
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (s *Store) CountApplicationsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.groupCount(ctx, `select status, count(*) from applications group by status`)
}

func (s *Store) PaymentTotals(ctx context.Context) (admin.PaymentTotals, error) {
	if s.db == nil {
		return admin.PaymentTotals{}, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select status, count(*), coalesce(sum(amount) filter (where status = 'succeeded'), 0)
		from payments
		group by status
	`)
	if err != nil {
		return admin.PaymentTotals{}, err
	}
	defer rows.Close()

	out := admin.PaymentTotals{ByStatus: make(map[string]int64)}
	for rows.Next() {
		var (
			status string
			n, amt int64
		)
		if err := rows.Scan(&status, &n, &amt); err != nil {
			return admin.PaymentTotals{}, err
		}
		out.ByStatus[status] = n
		out.SucceededAmount += amt
	}
	return out, rows.Err()
}

func (s *Store) EligibilityTotals(ctx context.Context) (admin.EligibilityTotals, error) {
	if s.db == nil {
		return admin.EligibilityTotals{}, errNoDB
	}
	var out admin.EligibilityTotals
	err := s.db.QueryRowContext(ctx, `
		select count(*) filter (where is_eligible), count(*) filter (where not is_eligible)
		from eligibility_checks
	`).Scan(&out.Eligible, &out.Ineligible)
	return out, err
}

func (s *Store) DailyEventCounts(ctx context.Context, since time.Time) ([]admin.DayCount, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select to_char(created_at at time zone 'UTC', 'YYYY-MM-DD') as day, count(*)
		from analytics_events
		where created_at >= $1
		group by day
		order by day
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []admin.DayCount{}
	for rows.Next() {
		var d admin.DayCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) EventCountsByType(ctx context.Context, from, to *time.Time) (map[string]int64, error) {
	return s.groupCount(ctx, `
		select event_type, count(*)
		from analytics_events
		where ($1::timestamptz is null or created_at >= $1)
			and ($2::timestamptz is null or created_at <= $2)
		group by event_type
	`, nullOf(from), nullOf(to))
}
