package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/idp"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Flow runs the credential-issuing operations. It talks to the identity
// provider directly and never consults the session of the caller, except
// for operations that take an already resolved *User.
type Flow struct {
	idp      IdentityProvider
	users    UserStore
	verifier TokenVerifier
	metrics  *observability.Metrics
}

// NewFlow creates a Flow
func NewFlow(provider IdentityProvider, users UserStore, verifier TokenVerifier, metrics *observability.Metrics) *Flow {
	return &Flow{
		idp:      provider,
		users:    users,
		verifier: verifier,
		metrics:  metrics,
	}
}

// SignUp registers email with the identity provider, mirrors the account
// locally and signs it in. Registering an email twice is not an error; the
// password then decides whether sign-in succeeds.
func (f *Flow) SignUp(ctx context.Context, req SignUpRequest) (*TokenPair, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, apierr.BadRequest("email and password are required")
	}

	first, last := idp.SplitFullName(strings.TrimSpace(req.FullName))
	id, err := f.idp.CreateUser(ctx, email, req.Password, first, last)
	if err != nil {
		return nil, err
	}
	if err := f.idp.EnsureUserProfile(ctx, email, first, last); err != nil {
		return nil, err
	}

	if err := f.mirror(ctx, id, email, req.FullName); err != nil {
		return nil, err
	}

	pair, err := f.idp.AuthenticateUser(ctx, email, req.Password)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apierr.Unauthenticated("Invalid credentials")
	}
	return pair, nil
}

// mirror inserts the local user row unless one already exists
func (f *Flow) mirror(ctx context.Context, id, email, fullName string) error {
	_, err := f.users.GetByID(ctx, id)
	if err == nil {
		return nil
	}
	if apierr.KindOf(err) != apierr.KindNotFound {
		return err
	}

	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		first, last := idp.DefaultNamesFromEmail(email)
		fullName = strings.TrimSpace(first + " " + last)
	}
	_, err = f.users.Create(ctx, &User{ID: id, Email: email, FullName: fullName})
	if errors.Is(err, ErrIdentityConflict) {
		return apierr.BadRequest("email is linked to another account")
	}
	if err != nil {
		return err
	}
	f.metrics.ObserveUserProvisioned("signup")
	return nil
}

// SignIn exchanges a password for tokens and stamps the user's last login
func (f *Flow) SignIn(ctx context.Context, req SignInRequest) (*TokenPair, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return nil, apierr.BadRequest("email and password are required")
	}

	pair, err := f.idp.AuthenticateUser(ctx, email, req.Password)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apierr.Unauthenticated("Invalid credentials")
	}

	logger := observability.FromContext(ctx).WithField("email", email)
	stamped, err := f.users.StampLastLogin(ctx, email)
	switch {
	case err != nil:
		logger.WithError(err).Warn("failed to record last login")
	case !stamped:
		logger.Debug("signed-in user has no local row yet")
	}
	return pair, nil
}

// Refresh trades a refresh token for a new pair
func (f *Flow) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, apierr.Unauthenticated("Invalid refresh token")
	}
	pair, err := f.idp.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, apierr.Unauthenticated("Invalid refresh token")
	}
	return pair, nil
}

// Logout revokes refreshToken. An empty token has nothing to revoke.
func (f *Flow) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return f.idp.RevokeToken(ctx, refreshToken)
}

// ChangePassword checks oldPassword against the identity provider and then
// replaces it.
func (f *Flow) ChangePassword(ctx context.Context, user *User, req ChangePasswordRequest) error {
	if req.OldPassword == "" || req.NewPassword == "" {
		return apierr.BadRequest("old_password and new_password are required")
	}

	pair, err := f.idp.AuthenticateUser(ctx, user.Email, req.OldPassword)
	if err != nil {
		return err
	}
	if pair == nil {
		return apierr.BadRequest("Current password is incorrect")
	}
	return f.idp.ResetPassword(ctx, user.ID, req.NewPassword)
}

// Validate reports whether raw verifies, without touching the user store
func (f *Flow) Validate(ctx context.Context, raw string) ValidateResult {
	if raw == "" || f.verifier == nil {
		return ValidateResult{}
	}
	claims := f.verifier.Verify(ctx, raw)
	if claims == nil {
		return ValidateResult{}
	}

	sub := claims.Subject
	exp := claims.ExpiresAt.Unix()
	return ValidateResult{Valid: true, Sub: &sub, Exp: &exp}
}

// UpdateProfile changes the caller's display name locally and at the
// identity provider.
func (f *Flow) UpdateProfile(ctx context.Context, user *User, req UpdateProfileRequest) (*User, error) {
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		return nil, apierr.BadRequest("full_name is required")
	}

	first, last := idp.SplitFullName(fullName)
	if err := f.idp.UpdateUser(ctx, user.ID, idp.UserPatch{FirstName: &first, LastName: &last}); err != nil {
		return nil, err
	}
	if err := f.users.UpdateFullName(ctx, user.ID, fullName); err != nil {
		return nil, err
	}

	updated := *user
	updated.FullName = fullName
	return &updated, nil
}
