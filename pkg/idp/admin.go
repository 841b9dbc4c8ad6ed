package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// AdminBroker obtains and caches the bearer credential for the management
// API. The credential is only replaced when a caller forces it, which Do
// does after a 401.
type AdminBroker struct {
	oauth      *oauth2.Config
	username   string
	password   string
	httpClient *http.Client
	metrics    *observability.Metrics

	mu    sync.RWMutex
	token string

	refreshMu sync.Mutex
}

// NewAdminBroker creates a broker that runs the password grant against
// {baseURL}/realms/{realm} with clientID.
func NewAdminBroker(baseURL, realm, clientID, username, password string, httpClient *http.Client, metrics *observability.Metrics) *AdminBroker {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &AdminBroker{
		oauth: &oauth2.Config{
			ClientID: clientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL(baseURL, realm),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		username:   username,
		password:   password,
		httpClient: httpClient,
		metrics:    metrics,
	}
}

// Credential returns the cached admin token, acquiring a new one when none
// is cached or forceRefresh is set.
func (b *AdminBroker) Credential(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		b.mu.RLock()
		token := b.token
		b.mu.RUnlock()
		if token != "" {
			return token, nil
		}
	}

	b.refreshMu.Lock()
	defer b.refreshMu.Unlock()

	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	tok, err := b.oauth.PasswordCredentialsToken(ctx, b.username, b.password)
	b.metrics.ObserveAdminCredentialRefresh(err)
	if err != nil {
		return "", adminTokenError(err)
	}

	b.mu.Lock()
	b.token = tok.AccessToken
	b.mu.Unlock()
	return tok.AccessToken, nil
}

// Do calls fn with the current admin credential. A 401 response triggers one
// credential refresh and one retry; a second 401 is an IdpAuthFailure. Any
// other response is returned to the caller, who must close its body.
func (b *AdminBroker) Do(ctx context.Context, fn func(token string) (*http.Response, error)) (*http.Response, error) {
	token, err := b.Credential(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := fn(token)
	if err != nil {
		return nil, transportError("admin request", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	token, err = b.Credential(ctx, true)
	if err != nil {
		return nil, err
	}

	resp, err = fn(token)
	if err != nil {
		return nil, transportError("admin request", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		body := readBody(resp)
		return nil, apierr.IdpAuthFailure("identity provider rejected admin credential",
			fmt.Errorf("status 401 after refresh: %s", body))
	}
	return resp, nil
}

func adminTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusBadRequest:
			return apierr.IdpAuthFailure("failed to obtain admin credential", err)
		}
		return apierr.IdpUnavailable(
			fmt.Sprintf("admin token endpoint returned %d", re.Response.StatusCode), err)
	}
	return transportError("admin login", err)
}

func tokenURL(baseURL, realm string) string {
	return strings.TrimRight(baseURL, "/") + "/realms/" + realm + "/protocol/openid-connect/token"
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return string(body)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
