package idp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// DefaultKeyCacheTTL is how long a fetched key set is served before the next
// caller refetches it.
const DefaultKeyCacheTTL = time.Hour

// DefaultMinKeyRefreshInterval spaces out refreshes forced by unknown key ids
const DefaultMinKeyRefreshInterval = 10 * time.Second

// KeyCache holds the realm's public signing keys. Staleness is checked on
// read; there is no background refresh.
type KeyCache struct {
	realmURL     string
	issuer       string
	ttl          time.Duration
	minRefresh   time.Duration
	fetchTimeout time.Duration
	httpClient   *http.Client
	metrics      *observability.Metrics
	now          func() time.Time

	mu          sync.RWMutex
	keys        jwk.Set
	fetchedAt   time.Time
	lastAttempt time.Time

	group singleflight.Group
}

// NewKeyCache creates a key cache for the realm at realmURL. issuer is the
// issuer advertised by the discovery document; it may differ from realmURL
// when the provider sits behind a proxy.
func NewKeyCache(realmURL, issuer string, ttl time.Duration, httpClient *http.Client, metrics *observability.Metrics) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	if issuer == "" {
		issuer = realmURL
	}
	fetchTimeout := DefaultHTTPTimeout
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultHTTPTimeout)
	} else if httpClient.Timeout > 0 {
		fetchTimeout = httpClient.Timeout
	}
	return &KeyCache{
		realmURL:     realmURL,
		issuer:       issuer,
		ttl:          ttl,
		minRefresh:   DefaultMinKeyRefreshInterval,
		fetchTimeout: fetchTimeout,
		httpClient:   httpClient,
		metrics:      metrics,
		now:          time.Now,
	}
}

// SetMinRefreshInterval sets the minimum gap between two refreshes forced
// through Refresh. Zero lets every forced refresh reach the provider.
func (c *KeyCache) SetMinRefreshInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.mu.Lock()
	c.minRefresh = d
	c.mu.Unlock()
}

// Keys returns the current key set, fetching it when absent or older than
// the TTL. A failed fetch leaves any previous set in place.
func (c *KeyCache) Keys(ctx context.Context) (jwk.Set, error) {
	if keys := c.cached(); keys != nil {
		return keys, nil
	}
	return c.load(ctx, false)
}

// Refresh refetches the key set after a key id was not found in it. Within
// the minimum refresh interval of the previous attempt the current set is
// returned unchanged.
func (c *KeyCache) Refresh(ctx context.Context) (jwk.Set, error) {
	return c.load(ctx, true)
}

// load fetches through the singleflight group. The fetch runs detached from
// the caller's cancellation so one abandoned request cannot fail the others
// waiting on it.
func (c *KeyCache) load(ctx context.Context, force bool) (jwk.Set, error) {
	ch := c.group.DoChan("keys", func() (interface{}, error) {
		// Another caller may have refreshed while we waited.
		if force {
			if keys := c.recent(); keys != nil {
				return keys, nil
			}
		} else if keys := c.cached(); keys != nil {
			return keys, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		keys, err := c.fetch(fetchCtx)
		c.metrics.ObserveKeyRefresh(err)

		c.mu.Lock()
		defer c.mu.Unlock()
		c.lastAttempt = c.now()
		if err != nil {
			return nil, err
		}
		c.keys = keys
		c.fetchedAt = c.lastAttempt
		return keys, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	case <-ctx.Done():
		return nil, transportError("fetch signing keys", ctx.Err())
	}
}

// Ping reports whether signing keys can be obtained
func (c *KeyCache) Ping(ctx context.Context) error {
	_, err := c.Keys(ctx)
	return err
}

func (c *KeyCache) cached() jwk.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil
	}
	return c.keys
}

// recent returns the held set when the last fetch attempt is younger than
// the minimum refresh interval
func (c *KeyCache) recent() jwk.Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.keys == nil || c.now().Sub(c.lastAttempt) >= c.minRefresh {
		return nil
	}
	return c.keys
}

func (c *KeyCache) fetch(ctx context.Context) (jwk.Set, error) {
	jwksURI, err := c.discoverJWKSURI(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, apierr.IdpUnavailable("invalid jwks_uri", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError("fetch signing keys", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError("read signing keys", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apierr.IdpUnavailable(
			fmt.Sprintf("signing key endpoint returned %d", resp.StatusCode),
			fmt.Errorf("%s", body))
	}

	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, apierr.IdpUnavailable("malformed signing key set", err)
	}
	if keys.Len() == 0 {
		return nil, apierr.IdpUnavailable("signing key set is empty", nil)
	}
	return keys, nil
}

func (c *KeyCache) discoverJWKSURI(ctx context.Context) (string, error) {
	ctx = oidc.ClientContext(ctx, c.httpClient)
	if c.issuer != c.realmURL {
		ctx = oidc.InsecureIssuerURLContext(ctx, c.issuer)
	}

	provider, err := oidc.NewProvider(ctx, c.realmURL)
	if err != nil {
		return "", apierr.IdpUnavailable("failed to discover identity provider", err)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&doc); err != nil {
		return "", apierr.IdpUnavailable("malformed discovery document", err)
	}
	if doc.JWKSURI == "" {
		return "", apierr.IdpUnavailable("discovery document has no jwks_uri", nil)
	}
	return doc.JWKSURI, nil
}
