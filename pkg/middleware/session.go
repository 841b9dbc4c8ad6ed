package middleware

import (
	"context"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
)

// Resolver authenticates a request. *auth.SessionResolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*auth.User, error)
}

// SessionMiddleware resolves the caller's session and stores the user in
// the request context.
type SessionMiddleware struct {
	resolver Resolver
	optional bool // If true, unauthenticated requests pass through
}

// NewSessionMiddleware creates a new session middleware
func NewSessionMiddleware(resolver Resolver, optional bool) *SessionMiddleware {
	return &SessionMiddleware{
		resolver: resolver,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with session resolution
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.resolver.Resolve(r.Context(), r)
		if err != nil {
			if m.optional && apierr.KindOf(err) == apierr.KindUnauthenticated {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteAPIError(w, r, err)
			return
		}

		ctx := contextkeys.WithUser(r.Context(), user)
		ctx = contextkeys.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser returns the session user stored by SessionMiddleware, or nil
func CurrentUser(r *http.Request) *auth.User {
	user, ok := contextkeys.GetUser(r.Context()).(*auth.User)
	if !ok {
		return nil
	}
	return user
}
