package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/auth"
	"etiasassist.app/internal/store/memory"
)

const (
	seedEmail    = "root@etias.example"
	seedPassword = "correct horse battery"
)

type dirFixture struct {
	store *memory.Store
	dir   *auth.Directory
	root  auth.User
	now   time.Time
}

func newDirFixture(t *testing.T) *dirFixture {
	t.Helper()
	f := &dirFixture{store: memory.New(), now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	f.dir = auth.NewDirectory(f.store, auth.WithDirectoryClock(func() time.Time { return f.now }))
	root, err := f.dir.SeedSuperAdmin(context.Background(), seedEmail, seedPassword, "Root")
	require.NoError(t, err)
	f.root = root
	return f
}

func (f *dirFixture) actor() auth.Principal { return auth.PrincipalFor(f.root) }

func sp(s string) *string { return &s }

func TestSeedSuperAdminIsIdempotent(t *testing.T) {
	f := newDirFixture(t)
	assert.Equal(t, auth.RoleSuperAdmin, f.root.Role)
	assert.True(t, f.root.Immutable)

	again, err := f.dir.SeedSuperAdmin(context.Background(), seedEmail, seedPassword, "Root")
	require.NoError(t, err)
	assert.Equal(t, f.root.ID, again.ID)

	users, err := f.dir.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSeedRepairsDemotedAccount(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()
	broken := f.root
	broken.Role, broken.Immutable = auth.RoleUser, false
	require.NoError(t, f.store.SaveUser(ctx, broken))

	repaired, err := f.dir.SeedSuperAdmin(ctx, seedEmail, seedPassword, "")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSuperAdmin, repaired.Role)
	assert.True(t, repaired.Immutable)
}

func TestLogin(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()

	u, err := f.dir.Login(ctx, "  ROOT@etias.example ", seedPassword)
	require.NoError(t, err)
	require.NotNil(t, u.LastSignedIn)
	assert.Equal(t, f.now, *u.LastSignedIn)

	_, wrongPassword := f.dir.Login(ctx, seedEmail, "nope-nope-nope")
	_, unknownEmail := f.dir.Login(ctx, "ghost@etias.example", seedPassword)
	assert.ErrorIs(t, wrongPassword, apperr.ErrUnauthenticated)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestOnlySuperAdminManagesUsers(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()

	admin, err := f.dir.Create(ctx, f.actor(), auth.NewUser{Email: "ops@etias.example", Name: "Ops", Role: "admin", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, admin.Role)
	assert.False(t, admin.Immutable)

	adminActor := auth.PrincipalFor(admin)
	_, err = f.dir.Create(ctx, adminActor, auth.NewUser{Email: "x@etias.example", Name: "X"})
	assert.ErrorIs(t, err, auth.ErrSuperAdminRequired)
	_, err = f.dir.Update(ctx, adminActor, admin.ID, auth.UserUpdate{Name: sp("Y")})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, f.dir.Delete(ctx, adminActor, admin.ID), apperr.ErrForbidden)

	assert.ErrorIs(t, f.dir.Delete(ctx, auth.Principal{}, admin.ID), apperr.ErrUnauthenticated)
}

func TestCreateValidation(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()

	_, err := f.dir.Create(ctx, f.actor(), auth.NewUser{Email: "not-an-email", Name: "X"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.dir.Create(ctx, f.actor(), auth.NewUser{Email: "a@etias.example"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.dir.Create(ctx, f.actor(), auth.NewUser{Email: "a@etias.example", Name: "A", Role: "super_admin"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.dir.Create(ctx, f.actor(), auth.NewUser{Email: seedEmail, Name: "Dup"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestImmutableSuperAdminIsProtected(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()

	_, err := f.dir.Update(ctx, f.actor(), f.root.ID, auth.UserUpdate{Role: sp("admin")})
	assert.ErrorIs(t, err, auth.ErrImmutableUser)
	assert.ErrorIs(t, f.dir.Delete(ctx, f.actor(), f.root.ID), auth.ErrImmutableUser)

	renamed, err := f.dir.Update(ctx, f.actor(), f.root.ID, auth.UserUpdate{Name: sp("Root Renamed"), Role: sp("super_admin")})
	require.NoError(t, err)
	assert.Equal(t, "Root Renamed", renamed.Name)
	assert.Equal(t, auth.RoleSuperAdmin, renamed.Role)
	assert.True(t, renamed.Immutable)
}

func TestPromotionAndDeletion(t *testing.T) {
	f := newDirFixture(t)
	ctx := context.Background()
	u, err := f.dir.Create(ctx, f.actor(), auth.NewUser{Email: "u@etias.example", Name: "U"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, u.Role)

	_, err = f.dir.Update(ctx, f.actor(), u.ID, auth.UserUpdate{Role: sp("super_admin")})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	promoted, err := f.dir.Update(ctx, f.actor(), u.ID, auth.UserUpdate{Role: sp("ADMIN")})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, promoted.Role)

	require.NoError(t, f.dir.Delete(ctx, f.actor(), u.ID))
	_, err = f.dir.Get(ctx, u.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
