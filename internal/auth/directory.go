package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/ids"
)

// Directory manages accounts: login, listing and super-admin-only mutations.
type Directory struct {
	store UserStore
	now   func() time.Time
}

// DirectoryOption configures Directory.
type DirectoryOption func(*Directory)

// WithDirectoryClock overrides the time source.
func WithDirectoryClock(now func() time.Time) DirectoryOption {
	return func(d *Directory) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDirectory wires the directory to its store.
func NewDirectory(store UserStore, opts ...DirectoryOption) *Directory {
	d := &Directory{store: store, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Login checks credentials and stamps lastSignedIn.
func (d *Directory) Login(ctx context.Context, email, password string) (User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}
	u, err := d.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if u.PasswordHash == "" || VerifyPassword(u.PasswordHash, password) != nil {
		return User{}, ErrInvalidCredentials
	}
	now := d.now().UTC()
	u.LastSignedIn = &now
	if err := d.store.SaveUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Get returns one user.
func (d *Directory) Get(ctx context.Context, id string) (User, error) {
	return d.store.GetUser(ctx, strings.TrimSpace(id))
}

// List returns users, newest first.
func (d *Directory) List(ctx context.Context, limit int) ([]User, error) {
	return d.store.ListUsers(ctx, limit)
}

// Create adds an account. Only super admins may call it.
func (d *Directory) Create(ctx context.Context, actor Principal, in NewUser) (User, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return User{}, err
	}
	email, err := validateEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", apperr.ErrValidation)
	}
	role := RoleUser
	if strings.TrimSpace(in.Role) != "" {
		if role, err = assignableRole(in.Role); err != nil {
			return User{}, err
		}
	}
	var hash string
	if in.Password != "" {
		if hash, err = HashPassword(in.Password); err != nil {
			return User{}, err
		}
	}
	now := d.now().UTC()
	u := User{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		Role:         role,
		LoginMethod:  LoginMethodLocal,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Update applies upd to the user with id. Only super admins may call it, and
// the immutable seed account cannot be demoted.
func (d *Directory) Update(ctx context.Context, actor Principal, id string, upd UserUpdate) (User, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return User{}, err
	}
	u, err := d.store.GetUser(ctx, strings.TrimSpace(id))
	if err != nil {
		return User{}, err
	}
	if upd.Email != nil {
		email, err := validateEmail(*upd.Email)
		if err != nil {
			return User{}, err
		}
		u.Email = email
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name must not be empty", apperr.ErrValidation)
		}
		u.Name = name
	}
	if upd.Role != nil {
		role, err := ParseRole(*upd.Role)
		if err != nil {
			return User{}, err
		}
		if u.Immutable && role != u.Role {
			return User{}, ErrImmutableUser
		}
		if role != u.Role {
			if role, err = assignableRole(*upd.Role); err != nil {
				return User{}, err
			}
		}
		u.Role = role
	}
	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		u.PasswordHash = hash
	}
	u.UpdatedAt = d.now().UTC()
	if err := d.store.SaveUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Delete removes the user with id. The immutable seed account and the caller's
// own account cannot be deleted.
func (d *Directory) Delete(ctx context.Context, actor Principal, id string) error {
	if err := requireSuperAdmin(actor); err != nil {
		return err
	}
	u, err := d.store.GetUser(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if u.Immutable {
		return ErrImmutableUser
	}
	if u.ID == actor.UserID {
		return fmt.Errorf("%w: cannot delete own account", apperr.ErrForbidden)
	}
	return d.store.DeleteUser(ctx, u.ID)
}

// SeedSuperAdmin creates the immutable super admin, or repairs an existing
// account with the same email back to super_admin and immutable. The password
// of an existing account is only replaced when it no longer verifies.
func (d *Directory) SeedSuperAdmin(ctx context.Context, email, password, name string) (User, error) {
	email, err := validateEmail(email)
	if err != nil {
		return User{}, err
	}
	if strings.TrimSpace(name) == "" {
		name = "Super Admin"
	}
	now := d.now().UTC()
	existing, err := d.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		changed := false
		if existing.Role != RoleSuperAdmin || !existing.Immutable {
			existing.Role = RoleSuperAdmin
			existing.Immutable = true
			changed = true
		}
		if password != "" && VerifyPassword(existing.PasswordHash, password) != nil {
			hash, err := HashPassword(password)
			if err != nil {
				return User{}, err
			}
			existing.PasswordHash = hash
			changed = true
		}
		if !changed {
			return existing, nil
		}
		existing.UpdatedAt = now
		if err := d.store.SaveUser(ctx, existing); err != nil {
			return User{}, err
		}
		return existing, nil
	case errors.Is(err, apperr.ErrNotFound):
	default:
		return User{}, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	u := User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         RoleSuperAdmin,
		Immutable:    true,
		LoginMethod:  LoginMethodLocal,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := d.store.CreateUser(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

func requireSuperAdmin(actor Principal) error {
	if actor.UserID == "" {
		return apperr.ErrUnauthenticated
	}
	if actor.Role != RoleSuperAdmin {
		return ErrSuperAdminRequired
	}
	return nil
}

// assignableRole limits user management to user and admin; super_admin only
// comes from seeding.
func assignableRole(s string) (Role, error) {
	r, err := ParseRole(s)
	if err != nil {
		return "", err
	}
	if r == RoleSuperAdmin {
		return "", fmt.Errorf("%w: super_admin cannot be assigned", apperr.ErrValidation)
	}
	return r, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateEmail(s string) (string, error) {
	email := normalizeEmail(s)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", apperr.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	}
	return email, nil
}
