// Package auth turns identity provider credentials into local sessions.
//
// # Sessions
//
// SessionResolver authenticates an inbound request. The access token is
// taken from the Authorization header, falling back to the access cookie,
// and checked by a TokenVerifier. The verified subject is looked up in the
// local UserStore; an unknown subject that the identity provider does know
// is mirrored locally on first sight.
//
//	resolver := auth.NewSessionResolver(verifier, idpClient, users, cfg.Cookies, metrics)
//	user, err := resolver.Resolve(ctx, r)
//
// # Credential flows
//
// Flow implements sign-up, sign-in, refresh, logout, password change and
// profile updates against the identity provider. Credential-issuing
// operations return a TokenPair, which SetSessionCookies copies into the
// access and refresh cookies.
//
//	pair, err := flow.SignIn(ctx, auth.SignInRequest{Email: email, Password: pw})
//	if err != nil {
//		httputil.WriteAPIError(w, r, err)
//		return
//	}
//	auth.SetSessionCookies(w, cfg.Cookies, pair)
//
// # Audit logging
//
// Handlers record credential outcomes with LogAudit. Events go to the
// structured request logger with category "audit".
package auth
