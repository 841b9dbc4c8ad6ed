package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// AuthHandlers handles the credential-issuing endpoints
type AuthHandlers struct {
	flow    *auth.Flow
	cookies config.CookieConfig
	limiter middleware.Limiter
	metrics *observability.Metrics
}

// RegisterRoutes registers the public routes on router and the
// session-protected ones on protected.
func (h *AuthHandlers) RegisterRoutes(router, protected *mux.Router) {
	var signIn http.Handler = http.HandlerFunc(h.signIn)
	if h.limiter != nil {
		signIn = middleware.RateLimitMiddleware(h.limiter, "sign_in", h.metrics)(signIn)
	}

	router.HandleFunc("/sign-up", h.signUp).Methods("POST")
	router.Handle("/sign-in/password", signIn).Methods("POST")
	router.HandleFunc("/refresh_token", h.refresh).Methods("POST")
	router.HandleFunc("/logout", h.logout).Methods("POST")
	router.HandleFunc("/validate", h.validate).Methods("GET")

	protected.HandleFunc("/change-password", h.changePassword).Methods("POST")
}

// signUp handles POST /sign-up
func (h *AuthHandlers) signUp(w http.ResponseWriter, r *http.Request) {
	var req auth.SignUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.flow.SignUp(r.Context(), req)
	auth.LogAudit(r, auth.AuditFromRequest(r, auth.ActionSignUp, req.Email, err))
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}

	auth.SetSessionCookies(w, h.cookies, pair)
	httputil.WriteCreated(w, pair)
}

// signIn handles POST /sign-in/password
func (h *AuthHandlers) signIn(w http.ResponseWriter, r *http.Request) {
	var req auth.SignInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	pair, err := h.flow.SignIn(r.Context(), req)
	auth.LogAudit(r, auth.AuditFromRequest(r, auth.ActionSignIn, req.Email, err))
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}

	auth.SetSessionCookies(w, h.cookies, pair)
	httputil.WriteSuccess(w, pair)
}

// refresh handles POST /refresh_token. The token comes from the body or
// the refresh cookie.
func (h *AuthHandlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := parseOptionalJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	pair, err := h.flow.Refresh(r.Context(), auth.RefreshTokenFrom(r, h.cookies, req.RefreshToken))
	if err != nil {
		auth.LogAudit(r, auth.AuditFromRequest(r, auth.ActionRefresh, "", err))
		httputil.WriteAPIError(w, r, err)
		return
	}

	auth.SetSessionCookies(w, h.cookies, pair)
	httputil.WriteSuccess(w, pair)
}

// logout handles POST /logout. The cookies are cleared even when the
// identity provider refuses the revocation.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if err := parseOptionalJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	err := h.flow.Logout(r.Context(), auth.RefreshTokenFrom(r, h.cookies, req.RefreshToken))
	auth.LogAudit(r, auth.AuditFromRequest(r, auth.ActionLogout, "", err))
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to revoke refresh token")
	}

	auth.ClearSessionCookies(w, h.cookies)
	httputil.WriteNoContent(w)
}

// validate handles GET /validate?token=. Without the parameter the caller's
// own access token is checked.
func (h *AuthHandlers) validate(w http.ResponseWriter, r *http.Request) {
	raw := httputil.ParseQueryString(r, "token", "")
	if raw == "" {
		raw = auth.AccessToken(r, h.cookies)
	}
	httputil.WriteSuccess(w, h.flow.Validate(r.Context(), raw))
}

// changePassword handles POST /change-password
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req auth.ChangePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.flow.ChangePassword(r.Context(), user, req)
	auth.LogAudit(r, auth.AuditFromRequest(r, auth.ActionChangePassword, user.ID, err))
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
