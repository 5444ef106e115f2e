package application

import (
	"context"
	"time"
)

// Store persists applications. Missing records yield an error wrapping
// apperr.ErrNotFound.
type Store interface {
	CreateApplication(ctx context.Context, app Application) error
	GetApplication(ctx context.Context, id string) (Application, error)
	ListApplications(ctx context.Context, userID string) ([]Application, error)
	LatestDraft(ctx context.Context, userID string) (Application, error)
	SaveApplication(ctx context.Context, app Application) error
	// AdvanceStatus moves the application to `to` only when its current
	// status ranks lower, and reports whether a change was made.
	AdvanceStatus(ctx context.Context, id string, to Status, at time.Time) (bool, error)
}
