package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"etiasassist.app/internal/analytics"
	"etiasassist.app/internal/eligibility"
	"etiasassist.app/internal/notify"
)

func (s *Store) InsertCheck(ctx context.Context, c eligibility.Check) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into eligibility_checks (id, user_id, session_id, nationality, has_valid_passport, travel_purpose, is_eligible, reason, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, nullIfEmpty(c.UserID), nullIfEmpty(c.SessionID), c.Nationality, c.HasValidPassport,
		nullIfEmpty(c.TravelPurpose), c.IsEligible, c.Reason, c.CreatedAt)
	return mapErr(err, "eligibility check")
}

func (s *Store) InsertEvent(ctx context.Context, e analytics.Event) error {
	if s.db == nil {
		return errNoDB
	}
	data := []byte("{}")
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into analytics_events (id, user_id, session_id, event_type, event_data, page_url, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, nullIfEmpty(e.UserID), nullIfEmpty(e.SessionID), e.Type, data, nullIfEmpty(e.PageURL), e.CreatedAt)
	return mapErr(err, "analytics event")
}

func (s *Store) InsertNotification(ctx context.Context, n notify.Notification) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, user_id, application_id, type, channel, recipient_email, subject, content, status, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, nullIfEmpty(n.UserID), nullIfEmpty(n.ApplicationID), string(n.Type), n.Channel,
		nullIfEmpty(n.RecipientEmail), n.Subject, n.Content, string(n.Status), n.CreatedAt)
	return mapErr(err, "notification")
}

func (s *Store) MarkNotification(ctx context.Context, id string, status notify.Status, sentAt *time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update notifications set status = $2, sent_at = $3 where id = $1
	`, id, string(status), nullOf(sentAt))
	if err != nil {
		return mapErr(err, "notification")
	}
	return requireRow(res, "notification")
}
