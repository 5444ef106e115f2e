// Package admin aggregates counts for the operator dashboard. It only reads.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/application"
	"etiasassist.app/internal/auth"
)

const (
	DefaultDays  = 30
	MaxDays      = 365
	DefaultLimit = 100
	MaxLimit     = 1000
)

// PaymentTotals summarizes the payments table.
type PaymentTotals struct {
	ByStatus        map[string]int64
	SucceededAmount int64
}

// EligibilityTotals summarizes the eligibility audit log.
type EligibilityTotals struct {
	Eligible   int64
	Ineligible int64
}

// DayCount is the number of analytics events on one UTC day.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Source answers the aggregate queries. Both stores implement it.
type Source interface {
	CountUsers(ctx context.Context) (int64, error)
	CountApplicationsByStatus(ctx context.Context) (map[string]int64, error)
	PaymentTotals(ctx context.Context) (PaymentTotals, error)
	EligibilityTotals(ctx context.Context) (EligibilityTotals, error)
	// DailyEventCounts groups events created at or after since by UTC date,
	// ordered by date.
	DailyEventCounts(ctx context.Context, since time.Time) ([]DayCount, error)
	// EventCountsByType groups events by type. Nil bounds are open.
	EventCountsByType(ctx context.Context, from, to *time.Time) (map[string]int64, error)
	ListAllApplications(ctx context.Context, limit int) ([]application.Application, error)
	ListUsers(ctx context.Context, limit int) ([]auth.User, error)
}

// Stats is the dashboard summary.
type Stats struct {
	Users        UserStats        `json:"users"`
	Applications ApplicationStats `json:"applications"`
	Payments     PaymentStats     `json:"payments"`
	Eligibility  EligibilityStats `json:"eligibility"`
	Conversion   Conversion       `json:"conversion"`
	Revenue      Revenue          `json:"revenue"`
}

type UserStats struct {
	Total int64 `json:"total"`
}

type ApplicationStats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
}

type PaymentStats struct {
	Total       int64            `json:"total"`
	TotalAmount int64            `json:"totalAmount"`
	ByStatus    map[string]int64 `json:"byStatus"`
}

type EligibilityStats struct {
	Total      int64 `json:"total"`
	Eligible   int64 `json:"eligible"`
	Ineligible int64 `json:"ineligible"`
}

// Conversion percentages with one decimal place.
type Conversion struct {
	EligibilityToApplication string `json:"eligibilityToApplication"`
	ApplicationToPayment     string `json:"applicationToPayment"`
}

// Revenue is the succeeded amount in major units.
type Revenue struct {
	Currency string `json:"currency"`
	Display  string `json:"display"`
}

// EventStats is the analytics breakdown.
type EventStats struct {
	TotalEvents int64            `json:"totalEvents"`
	ByType      map[string]int64 `json:"byType"`
}

// Service answers admin queries. Authorization happens at the transport.
type Service struct {
	src      Source
	currency string
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithCurrency sets the currency reported with revenue.
func WithCurrency(c string) Option {
	return func(s *Service) { s.currency = strings.ToLower(strings.TrimSpace(c)) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wraps src.
func NewService(src Source, opts ...Option) (*Service, error) {
	if src == nil {
		return nil, errors.New("admin source is required")
	}
	s := &Service{src: src, currency: "eur", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Stats gathers every dashboard counter.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.src.CountUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	apps, err := s.src.CountApplicationsByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count applications: %w", err)
	}
	pays, err := s.src.PaymentTotals(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("payment totals: %w", err)
	}
	elig, err := s.src.EligibilityTotals(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("eligibility totals: %w", err)
	}

	st := Stats{
		Users:        UserStats{Total: nonNegative(users)},
		Applications: ApplicationStats{ByStatus: cleanCounts(apps)},
		Payments: PaymentStats{
			ByStatus:    cleanCounts(pays.ByStatus),
			TotalAmount: nonNegative(pays.SucceededAmount),
		},
		Eligibility: EligibilityStats{
			Eligible:   nonNegative(elig.Eligible),
			Ineligible: nonNegative(elig.Ineligible),
		},
	}
	st.Applications.Total = sum(st.Applications.ByStatus)
	st.Payments.Total = sum(st.Payments.ByStatus)
	st.Eligibility.Total = st.Eligibility.Eligible + st.Eligibility.Ineligible
	st.Conversion = Conversion{
		EligibilityToApplication: Percent(st.Applications.Total, st.Eligibility.Total),
		ApplicationToPayment:     Percent(st.Payments.Total, st.Applications.Total),
	}
	st.Revenue = Revenue{Currency: s.currency, Display: MajorUnits(st.Payments.TotalAmount)}
	return st, nil
}

// DailySeries returns per-day event counts over the trailing window. Zero
// days means the default.
func (s *Service) DailySeries(ctx context.Context, days int) ([]DayCount, error) {
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > MaxDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", apperr.ErrValidation, MaxDays)
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	out, err := s.src.DailyEventCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("daily event counts: %w", err)
	}
	if out == nil {
		out = []DayCount{}
	}
	return out, nil
}

// Analytics breaks events down by type within optional bounds.
func (s *Service) Analytics(ctx context.Context, from, to *time.Time) (EventStats, error) {
	if from != nil && to != nil && to.Before(*from) {
		return EventStats{}, fmt.Errorf("%w: to must not be before from", apperr.ErrValidation)
	}
	byType, err := s.src.EventCountsByType(ctx, from, to)
	if err != nil {
		return EventStats{}, fmt.Errorf("event counts: %w", err)
	}
	byType = cleanCounts(byType)
	return EventStats{TotalEvents: sum(byType), ByType: byType}, nil
}

// Applications lists every application, newest first.
func (s *Service) Applications(ctx context.Context, limit int) ([]application.Application, error) {
	return s.src.ListAllApplications(ctx, clampLimit(limit))
}

// Users lists every account, newest first.
func (s *Service) Users(ctx context.Context, limit int) ([]auth.User, error) {
	return s.src.ListUsers(ctx, clampLimit(limit))
}

var hundred = decimal.NewFromInt(100)

// Percent renders num/den as a percentage with one decimal, clamped to
// [0,100]. A zero denominator yields "0.0".
func Percent(num, den int64) string {
	if den <= 0 || num <= 0 {
		return "0.0"
	}
	p := decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den))
	if p.GreaterThan(hundred) {
		p = hundred
	}
	return p.StringFixed(1)
}

// MajorUnits renders minor units with two decimals.
func MajorUnits(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func nonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func cleanCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = nonNegative(v)
	}
	return out
}

func sum(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}
