package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

type fakeUsers map[string]models.User

func (f fakeUsers) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := f[id]
	if !ok {
		return models.User{}, apperr.NotFound("user")
	}
	return u, nil
}

func testTokens() *TokenManager {
	return NewTokenManager(TokenConfig{SecretKey: "test-secret", TTL: 15 * time.Minute, Issuer: "teamsync-test"})
}

func TestTokenRoundTrip(t *testing.T) {
	m := testTokens()
	token, err := m.Issue(models.User{ID: "u-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, "teamsync-test", claims.Issuer)
	assert.Equal(t, int64(900), m.TTL())
}

func TestTokenRejections(t *testing.T) {
	m := testTokens()
	token, err := m.Issue(models.User{ID: "u-1", Role: models.RoleUser})
	require.NoError(t, err)

	other := NewTokenManager(TokenConfig{SecretKey: "other-secret", TTL: time.Minute, Issuer: "teamsync-test"})
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewTokenManager(TokenConfig{SecretKey: "test-secret", TTL: time.Minute, Issuer: "someone-else"})
	_, err = wrongIssuer.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := testTokens()
	later.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = later.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	for _, bad := range []string{"", "not.a.token", "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.invalid"} {
		_, err := m.Validate(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", bad)
	}
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(4)
	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.True(t, h.Verify("s3cret", hash))
	assert.False(t, h.Verify("wrong", hash))
	assert.Equal(t, 10, NewPasswordHasher(0).cost)
}

func TestGuardResolve(t *testing.T) {
	m := testTokens()
	users := fakeUsers{
		"u-1": {ID: "u-1", Role: models.RoleUser},
	}
	g := NewGuard(m, users, time.Second)

	valid, err := m.Issue(models.User{ID: "u-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	ghost, err := m.Issue(models.User{ID: "u-gone", Role: models.RoleUser})
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantErr bool
	}{
		{name: "missing header", header: "", wantErr: true},
		{name: "basic scheme", header: "Basic abc", wantErr: true},
		{name: "bearer without token", header: "Bearer ", wantErr: true},
		{name: "garbage token", header: "Bearer garbage", wantErr: true},
		{name: "unknown user", header: "Bearer " + ghost, wantErr: true},
		{name: "valid", header: "Bearer " + valid},
		{name: "lowercase scheme", header: "bearer " + valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := g.Resolve(context.Background(), tt.header)
			if tt.wantErr {
				assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u-1", id.UserID)
			// stored role wins over the role in the token
			assert.Equal(t, models.RoleUser, id.Role)
			assert.False(t, id.IsAdmin())
		})
	}
}

// stalledUsers never answers before the caller's context ends.
type stalledUsers struct{}

func (stalledUsers) GetUser(ctx context.Context, _ string) (models.User, error) {
	<-ctx.Done()
	return models.User{}, ctx.Err()
}

func TestGuardResolveBoundsUserLookup(t *testing.T) {
	m := testTokens()
	token, err := m.Issue(models.User{ID: "u-1", Role: models.RoleUser})
	require.NoError(t, err)
	g := NewGuard(m, stalledUsers{}, 20*time.Millisecond)

	start := time.Now()
	_, err = g.Resolve(context.Background(), "Bearer "+token)
	require.Error(t, err)
	assert.True(t, apperr.IsRetryable(err), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCurrentUser(t *testing.T) {
	_, err := CurrentUser(context.Background())
	assert.True(t, errors.Is(err, ErrNoIdentity))

	ctx := WithIdentity(context.Background(), Identity{UserID: "u-9", Role: models.RoleAdmin})
	id, err := CurrentUser(ctx)
	require.NoError(t, err)
	assert.True(t, id.HasRole(models.RoleAdmin))
}
