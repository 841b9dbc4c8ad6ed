package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// SessionResolver turns an inbound request into the local user it
// authenticates, provisioning the local mirror on first sight.
type SessionResolver struct {
	verifier TokenVerifier
	idp      IdentityProvider
	users    UserStore
	cookies  config.CookieConfig
	metrics  *observability.Metrics
}

// NewSessionResolver creates a SessionResolver. A nil verifier rejects every
// request.
func NewSessionResolver(verifier TokenVerifier, provider IdentityProvider, users UserStore, cookies config.CookieConfig, metrics *observability.Metrics) *SessionResolver {
	return &SessionResolver{
		verifier: verifier,
		idp:      provider,
		users:    users,
		cookies:  cookies,
		metrics:  metrics,
	}
}

// Resolve returns the user authenticated by r's bearer header or access
// cookie. Every failure to authenticate is an Unauthenticated error; store
// and identity provider failures are returned as they are.
func (s *SessionResolver) Resolve(ctx context.Context, r *http.Request) (*User, error) {
	raw := AccessToken(r, s.cookies)
	if raw == "" {
		return nil, apierr.Unauthenticated("Not authenticated")
	}
	if s.verifier == nil {
		return nil, apierr.Unauthenticated("Token verification is not configured")
	}

	claims := s.verifier.Verify(ctx, raw)
	if claims == nil {
		return nil, apierr.Unauthenticated("Invalid or expired token")
	}
	if claims.Subject == "" {
		return nil, apierr.Unauthenticated("Token has no subject")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil && apierr.KindOf(err) != apierr.KindNotFound {
		return nil, err
	}
	if err != nil {
		if user, err = s.provision(ctx, claims.Subject); err != nil {
			return nil, err
		}
	}
	if user.ID != claims.Subject {
		return nil, apierr.Unauthenticated("Token subject does not match the session user")
	}
	return user, nil
}

// OptionalResolve is Resolve with every failure reported as nil
func (s *SessionResolver) OptionalResolve(ctx context.Context, r *http.Request) *User {
	user, err := s.Resolve(ctx, r)
	if err != nil {
		if apierr.KindOf(err) != apierr.KindUnauthenticated {
			observability.FromContext(ctx).WithError(err).Warn("optional session resolution failed")
		}
		return nil
	}
	return user
}

// provision mirrors an identity provider account that has no local row yet
func (s *SessionResolver) provision(ctx context.Context, subject string) (*User, error) {
	rep, err := s.idp.GetUserByID(ctx, subject)
	if err != nil {
		return nil, err
	}
	if rep == nil {
		return nil, apierr.Unauthenticated("user not found")
	}
	if rep.ID != "" && rep.ID != subject {
		return nil, apierr.Unauthenticated("user not found")
	}

	user, err := s.users.Create(ctx, &User{
		ID:       subject,
		Email:    rep.Email,
		FullName: rep.FullName(),
	})
	if errors.Is(err, ErrIdentityConflict) {
		observability.FromContext(ctx).WithError(err).WithField("user_id", subject).Warn("refusing session for conflicting identity")
		return nil, apierr.Unauthenticated("Account is not available")
	}
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveUserProvisioned("session")
	observability.FromContext(ctx).WithField("user_id", user.ID).Info("provisioned local user from identity provider")
	return user, nil
}
