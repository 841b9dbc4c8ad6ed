package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Client talks to the identity provider: the token endpoints of the
// application realm on behalf of users, and the admin API on behalf of
// the service.
type Client struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string

	user       *oauth2.Config
	admin      *AdminBroker
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewClient creates a client for cfg. httpClient may be nil, in which case a
// traced client bounded by cfg.HTTPTimeout is used.
func NewClient(cfg config.IdPConfig, httpClient *http.Client, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.HTTPTimeout)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		baseURL:      base,
		realm:        cfg.Realm,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		user: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL(base, cfg.Realm),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		admin: NewAdminBroker(base, cfg.AdminRealm, cfg.AdminClientID,
			cfg.AdminUsername, cfg.AdminPassword, httpClient, metrics),
		httpClient: httpClient,
		metrics:    metrics,
	}
}

// Admin exposes the admin credential broker
func (c *Client) Admin() *AdminBroker {
	return c.admin
}

// AuthenticateUser runs the password grant. Wrong credentials yield
// (nil, nil). A 400 carries the provider's body verbatim, since that is
// where messages such as "Account is not fully set up" surface.
func (c *Client) AuthenticateUser(ctx context.Context, email, password string) (*TokenPair, error) {
	start := time.Now()
	tok, err := c.user.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	c.metrics.ObserveIdPRequest("authenticate", oauthStatus(err), time.Since(start))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusUnauthorized:
				return nil, nil
			case http.StatusBadRequest:
				return nil, apierr.BadRequest("%s", re.Body)
			}
			return nil, apierr.IdpUnavailable(
				fmt.Sprintf("token endpoint returned %d: %s", re.Response.StatusCode, re.Body), err)
		}
		return nil, transportError("authenticate", err)
	}
	return newTokenPair(tok), nil
}

// RefreshToken exchanges a refresh token. A rejected token yields (nil, nil).
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, nil
	}

	start := time.Now()
	src := c.user.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	c.metrics.ObserveIdPRequest("refresh", oauthStatus(err), time.Since(start))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			switch re.Response.StatusCode {
			case http.StatusUnauthorized, http.StatusBadRequest:
				return nil, nil
			}
			return nil, apierr.IdpUnavailable(
				fmt.Sprintf("token endpoint returned %d: %s", re.Response.StatusCode, re.Body), err)
		}
		return nil, transportError("refresh", err)
	}
	return newTokenPair(tok), nil
}

// RevokeToken ends the session bound to refreshToken
func (c *Client) RevokeToken(ctx context.Context, refreshToken string) error {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"refresh_token": {refreshToken},
	}
	endpoint := c.baseURL + "/realms/" + c.realm + "/protocol/openid-connect/logout"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build logout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveIdPRequest("revoke", 0, time.Since(start))
		return transportError("revoke", err)
	}
	c.metrics.ObserveIdPRequest("revoke", resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		drain(resp)
		return nil
	}
	return apierr.IdpUnavailable(
		fmt.Sprintf("failed to revoke token: status %d: %s", resp.StatusCode, readBody(resp)), nil)
}

// FindUserByEmail returns the user whose email matches exactly, or nil
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*UserRepresentation, error) {
	query := url.Values{"email": {email}, "exact": {"true"}}
	resp, err := c.adminRequest(ctx, "find_user", http.MethodGet, c.adminURL("users")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("find user", resp)
	}

	var users []UserRepresentation
	if err := decodeBody(resp, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// GetUserByID returns the user with id, or nil if the provider does not know it
func (c *Client) GetUserByID(ctx context.Context, id string) (*UserRepresentation, error) {
	resp, err := c.adminRequest(ctx, "get_user", http.MethodGet, c.adminURL("users", id), nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		drain(resp)
		return nil, nil
	default:
		return nil, unexpectedStatus("get user", resp)
	}

	var user UserRepresentation
	if err := decodeBody(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser registers an enabled, verified user with a permanent password
// and returns its id. Empty names are derived from the email. Creating an
// existing email returns the existing user's id.
func (c *Client) CreateUser(ctx context.Context, email, password, firstName, lastName string) (string, error) {
	defFirst, defLast := DefaultNamesFromEmail(email)
	if firstName == "" {
		firstName = defFirst
	}
	if lastName == "" {
		lastName = defLast
	}

	user := UserRepresentation{
		Username:        email,
		Email:           email,
		FirstName:       firstName,
		LastName:        lastName,
		Enabled:         true,
		EmailVerified:   true,
		RequiredActions: []string{},
		Credentials: []CredentialRepresentation{
			{Type: "password", Value: password, Temporary: false},
		},
	}

	resp, err := c.adminRequest(ctx, "create_user", http.MethodPost, c.adminURL("users"), user)
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		location := resp.Header.Get("Location")
		drain(resp)
		if location != "" {
			if id := path.Base(location); id != "" && id != "." && id != "/" {
				return id, nil
			}
		}
		return c.lookupID(ctx, email)
	case http.StatusConflict:
		drain(resp)
		return c.lookupID(ctx, email)
	case http.StatusBadRequest:
		return "", apierr.BadRequest("%s", readBody(resp))
	default:
		return "", unexpectedStatus("create user", resp)
	}
}

// UpdateUser applies a partial update. An empty patch sends nothing.
func (c *Client) UpdateUser(ctx context.Context, id string, patch UserPatch) error {
	if patch.Empty() {
		return nil
	}
	resp, err := c.adminRequest(ctx, "update_user", http.MethodPut, c.adminURL("users", id), patch)
	if err != nil {
		return err
	}
	return expectNoBody("update user", resp)
}

// ResetPassword replaces the user's password with a permanent one
func (c *Client) ResetPassword(ctx context.Context, id, newPassword string) error {
	cred := CredentialRepresentation{Type: "password", Value: newPassword, Temporary: false}
	resp, err := c.adminRequest(ctx, "reset_password", http.MethodPut, c.adminURL("users", id, "reset-password"), cred)
	if err != nil {
		return err
	}
	return expectNoBody("reset password", resp)
}

// EnsureUserProfile completes a provider account so the password grant will
// accept it: missing names are filled in, the email is marked verified and
// pending required actions are cleared. Unknown emails are ignored.
func (c *Client) EnsureUserProfile(ctx context.Context, email, firstName, lastName string) error {
	user, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	if user.FirstName != "" && user.LastName != "" && len(user.RequiredActions) == 0 && user.EmailVerified {
		return nil
	}

	defFirst, defLast := DefaultNamesFromEmail(email)
	first := firstOf(user.FirstName, firstName, defFirst)
	last := firstOf(user.LastName, lastName, defLast)
	verified, enabled := true, true
	actions := []string{}

	return c.UpdateUser(ctx, user.ID, UserPatch{
		FirstName:       &first,
		LastName:        &last,
		EmailVerified:   &verified,
		Enabled:         &enabled,
		RequiredActions: &actions,
	})
}

func (c *Client) lookupID(ctx context.Context, email string) (string, error) {
	user, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil || user.ID == "" {
		return "", apierr.IdpUnavailable("user exists but cannot be fetched", nil)
	}
	return user.ID, nil
}

// adminRequest sends an authenticated admin API call through the broker.
// The caller owns the response body.
func (c *Client) adminRequest(ctx context.Context, op, method, endpoint string, body interface{}) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", op, err)
		}
	}

	start := time.Now()
	resp, err := c.admin.Do(ctx, func(token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		c.metrics.ObserveIdPRequest(op, 0, time.Since(start))
		return nil, err
	}
	c.metrics.ObserveIdPRequest(op, resp.StatusCode, time.Since(start))
	return resp, nil
}

func (c *Client) adminURL(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/admin/realms/" + url.PathEscape(c.realm) + "/" + strings.Join(escaped, "/")
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func newTokenPair(tok *oauth2.Token) *TokenPair {
	expiresIn := int(tok.ExpiresIn)
	if expiresIn <= 0 && !tok.Expiry.IsZero() {
		expiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}
	tokenType := tok.Type()
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	return &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn,
		TokenType:    tokenType,
	}
}

func oauthStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

func expectNoBody(op string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		drain(resp)
		return nil
	case http.StatusNotFound:
		drain(resp)
		return apierr.NotFound("user not found")
	case http.StatusBadRequest:
		return apierr.BadRequest("%s", readBody(resp))
	}
	return unexpectedStatus(op, resp)
}

func unexpectedStatus(op string, resp *http.Response) error {
	return apierr.IdpUnavailable(
		fmt.Sprintf("identity provider %s error %d: %s", op, resp.StatusCode, readBody(resp)), nil)
}

func decodeBody(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return apierr.IdpUnavailable("malformed identity provider response", err)
	}
	return nil
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
