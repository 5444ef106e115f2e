package auth

import (
	"errors"
	"fmt"

	"etiasassist.app/internal/apperr"
)

var (
	// ErrInvalidToken indicates the session token failed validation.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	// ErrInvalidCredentials hides whether the email or the password was wrong.
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)
	// ErrSuperAdminRequired is returned for user management by anyone but a super admin.
	ErrSuperAdminRequired = fmt.Errorf("%w: super admin access required", apperr.ErrForbidden)
	// ErrImmutableUser protects the seeded super admin from deletion and demotion.
	ErrImmutableUser = fmt.Errorf("%w: user is immutable", apperr.ErrForbidden)

	errMissingSecret = errors.New("auth secret is not configured")
)
