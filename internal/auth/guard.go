// Package auth resolves bearer credentials into caller identities.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"teamsync/internal/apperr"
	"teamsync/internal/models"
)

// Identity is the resolved caller. It is passed explicitly into every task
// operation.
type Identity struct {
	UserID string
	Role   models.Role
}

// HasRole reports whether the caller holds role.
func (i Identity) HasRole(role models.Role) bool {
	return i.Role == role
}

// IsAdmin is shorthand for HasRole(models.RoleAdmin).
func (i Identity) IsAdmin() bool {
	return i.HasRole(models.RoleAdmin)
}

// UserLookup is the slice of the user repository the guard needs.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

// DefaultLookupTimeout bounds the user lookup when NewGuard gets no timeout.
const DefaultLookupTimeout = 3 * time.Second

// Guard turns an Authorization header into an Identity.
type Guard struct {
	tokens  *TokenManager
	users   UserLookup
	timeout time.Duration
}

// NewGuard constructs a guard backed by the token manager and user store.
// Each user lookup is bounded by lookupTimeout.
func NewGuard(tokens *TokenManager, users UserLookup, lookupTimeout time.Duration) *Guard {
	if lookupTimeout <= 0 {
		lookupTimeout = DefaultLookupTimeout
	}
	return &Guard{tokens: tokens, users: users, timeout: lookupTimeout}
}

// Resolve validates the header and loads the caller. The role is taken from
// the stored user, not from the token, so demotions apply immediately.
func (g *Guard) Resolve(ctx context.Context, header string) (Identity, error) {
	if header == "" {
		return Identity{}, apperr.Unauthorized("authorization header is required")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Identity{}, apperr.Unauthorized("invalid authorization header format, use: Bearer <token>")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperr.Unauthorized("token is required")
	}

	claims, err := g.tokens.Validate(token)
	if err != nil {
		return Identity{}, apperr.Unauthorized("invalid or expired token")
	}

	lctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	user, err := g.users.GetUser(lctx, claims.UserID)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return Identity{}, apperr.Unauthorized("token does not resolve to a known user")
		}
		return Identity{}, err
	}
	return Identity{UserID: user.ID, Role: user.Role}, nil
}

type identityKey struct{}

// WithIdentity stores the caller on ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// ErrNoIdentity is returned by CurrentUser when no caller was resolved.
var ErrNoIdentity = errors.New("no resolved identity")

// CurrentUser returns the caller stored by WithIdentity.
func CurrentUser(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}
