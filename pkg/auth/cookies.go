package auth

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/config"
)

// BearerToken returns the token from an "Authorization: Bearer" header, or
// "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

// AccessToken returns the caller's access token. The Authorization header
// wins over the access cookie.
func AccessToken(r *http.Request, cfg config.CookieConfig) string {
	if raw := BearerToken(r); raw != "" {
		return raw
	}
	if c, err := r.Cookie(cfg.AccessName); err == nil {
		return c.Value
	}
	return ""
}

// RefreshTokenFrom returns fromBody when set, otherwise the refresh cookie.
func RefreshTokenFrom(r *http.Request, cfg config.CookieConfig, fromBody string) string {
	if fromBody = strings.TrimSpace(fromBody); fromBody != "" {
		return fromBody
	}
	if c, err := r.Cookie(cfg.RefreshName); err == nil {
		return c.Value
	}
	return ""
}

// SetSessionCookies stores pair in the access and refresh cookies
func SetSessionCookies(w http.ResponseWriter, cfg config.CookieConfig, pair *TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.AccessName,
		Value:    pair.AccessToken,
		Path:     cfg.AccessPath,
		Domain:   cfg.Domain,
		MaxAge:   pair.ExpiresIn,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	if pair.RefreshToken == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.RefreshName,
		Value:    pair.RefreshToken,
		Path:     cfg.RefreshPath,
		Domain:   cfg.Domain,
		MaxAge:   int(cfg.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookies expires both session cookies
func ClearSessionCookies(w http.ResponseWriter, cfg config.CookieConfig) {
	for _, c := range []struct{ name, path string }{
		{cfg.AccessName, cfg.AccessPath},
		{cfg.RefreshName, cfg.RefreshPath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     c.path,
			Domain:   cfg.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
