package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-sec/vigil/internal/shared"
)

func newTestService(repo Repository) *Service {
	return NewService(repo, NewTokens("jwt-secret", time.Hour), 100)
}

func TestRegisterAndLogin(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	user, err := svc.Register(ctx, " new@vigil.local ", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "new@vigil.local", user.Email)
	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, 100, repo.credits[user.ID])
	assert.NotEqual(t, "s3cret-pass", user.PasswordHash)

	_, err = svc.Register(ctx, "NEW@vigil.local", "another-pass")
	assert.ErrorIs(t, err, ErrEmailTaken)

	result, err := svc.Login(ctx, "new@vigil.local", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, HashToken(result.Token), repo.users[user.ID].TokenHash)

	_, err = svc.Login(ctx, "new@vigil.local", "wrong-pass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Login(ctx, "missing@vigil.local", "s3cret-pass")
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRegisterFoldsEmailCase(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	bob, err := svc.Register(ctx, "Bob@Vigil.local", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, "bob@vigil.local", bob.Email)
	assert.Equal(t, "bob@vigil.local", repo.users[bob.ID].Email)

	_, err = svc.Register(ctx, "bob@vigil.local", "s3cret-pass")
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Len(t, repo.users, 1)

	result, err := svc.Login(ctx, "BOB@VIGIL.LOCAL", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, result.User.ID)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "dev@vigil.local", NormalizeEmail("  Dev@Vigil.Local "))
	assert.Equal(t, "", NormalizeEmail("   "))
}

func TestVerifySingleActiveSession(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Register(ctx, "dev@vigil.local", "s3cret-pass")
	require.NoError(t, err)

	first, err := svc.Login(ctx, "dev@vigil.local", "s3cret-pass")
	require.NoError(t, err)
	principal, err := svc.Verify(ctx, first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.User.ID, principal.UserID)

	second, err := svc.Login(ctx, "dev@vigil.local", "s3cret-pass")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, first.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated, "older token must be rejected once a new one is issued")
	_, err = svc.Verify(ctx, second.Token)
	assert.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, second.User.ID))
	_, err = svc.Verify(ctx, second.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestVerifyRejectsGarbageAndUnknownUser(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	raw, _, err := NewTokens("jwt-secret", time.Hour).Issue(&User{ID: 999})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, raw)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}
