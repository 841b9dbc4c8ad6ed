package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// ActiveOrgLookup returns a user's active organization id, "" when none.
// *orgs.PostgresService implements it.
type ActiveOrgLookup interface {
	GetActiveOrg(ctx context.Context, userID string) (string, error)
}

// OrgContextMiddleware adds the session user's active organization to the
// request context. It must run after SessionMiddleware. Lookup failures are
// logged and the request continues without an organization.
func OrgContextMiddleware(lookup ActiveOrgLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := contextkeys.GetUserID(r.Context())
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}

			orgID, err := lookup.GetActiveOrg(r.Context(), userID)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("failed to load active organization")
				next.ServeHTTP(w, r)
				return
			}
			if orgID != "" {
				r = r.WithContext(contextkeys.WithOrgID(r.Context(), orgID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateIDParams rejects requests whose named path variables are present
// but not UUIDs.
func ValidateIDParams(names ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vars := mux.Vars(r)
			for _, name := range names {
				value, ok := vars[name]
				if !ok {
					continue
				}
				if _, err := uuid.Parse(value); err != nil {
					httputil.WriteBadRequest(w, "invalid "+name+": "+value)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
