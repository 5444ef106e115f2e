package auth

import "context"

// UserStore persists accounts. Lookups of missing users return an error
// wrapping apperr.ErrNotFound; a duplicate email wraps apperr.ErrConflict.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, limit int) ([]User, error)
	SaveUser(ctx context.Context, u User) error
	DeleteUser(ctx context.Context, id string) error
}
