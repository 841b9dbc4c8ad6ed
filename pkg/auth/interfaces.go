package auth

import (
	"context"
	"errors"

	"github.com/platinummonkey/tenantgate/pkg/idp"
	"github.com/platinummonkey/tenantgate/pkg/token"
)

// IdentityProvider is the subset of the identity provider client used by
// the session and credential flows. *idp.Client implements it.
type IdentityProvider interface {
	AuthenticateUser(ctx context.Context, email, password string) (*idp.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*idp.TokenPair, error)
	RevokeToken(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*idp.UserRepresentation, error)
	CreateUser(ctx context.Context, email, password, firstName, lastName string) (string, error)
	UpdateUser(ctx context.Context, id string, patch idp.UserPatch) error
	ResetPassword(ctx context.Context, id, newPassword string) error
	EnsureUserProfile(ctx context.Context, email, firstName, lastName string) error
}

// ErrIdentityConflict is returned by UserStore.Create when the row blocking
// the insert is not a live user with the requested id: the email belongs to
// another identity or the id was deleted.
var ErrIdentityConflict = errors.New("identity conflicts with an existing user")

// UserStore persists the local user mirror. Lookups report a missing user
// with an apierr NotFound. Create never returns a user whose id differs from
// the one requested.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) (*User, error)
	StampLastLogin(ctx context.Context, email string) (bool, error)
	UpdateFullName(ctx context.Context, id, fullName string) error
}

// TokenVerifier checks a raw bearer token. nil means the token is not
// acceptable for any reason.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) *token.VerifiedClaims
}

var (
	_ IdentityProvider = (*idp.Client)(nil)
	_ TokenVerifier    = (*token.Verifier)(nil)
)
