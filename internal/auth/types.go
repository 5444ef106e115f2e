package auth

import (
	"fmt"
	"strings"
	"time"

	"etiasassist.app/internal/apperr"
)

// Role is the coarse access level of a user.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuperAdmin:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r.rank() > 0 }

// Allows reports whether a holder of r may act where required is needed.
func (r Role) Allows(required Role) bool {
	return r.Valid() && r.rank() >= required.rank()
}

// ParseRole normalizes s and rejects unknown roles.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", apperr.ErrValidation, s)
	}
	return r, nil
}

const LoginMethodLocal = "local"

// User is an account able to sign in.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         Role       `json:"role"`
	Immutable    bool       `json:"isImmutable"`
	LoginMethod  string     `json:"loginMethod"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	LastSignedIn *time.Time `json:"lastSignedIn,omitempty"`
}

// NewUser is the input for creating an account through user management.
type NewUser struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UserUpdate carries optional changes; nil fields are left untouched.
type UserUpdate struct {
	Email    *string `json:"email,omitempty"`
	Name     *string `json:"name,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	UserID string
	Email  string
	Name   string
	Role   Role
}

// PrincipalFor builds the request principal for u.
func PrincipalFor(u User) Principal {
	return Principal{UserID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}
