package token

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/idp"
	"github.com/platinummonkey/tenantgate/pkg/idp/idptest"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

type failingKeys struct{}

func (failingKeys) Keys(context.Context) (jwk.Set, error) {
	return nil, errors.New("connection refused")
}

func newTestVerifier(t *testing.T, policy string) (*Verifier, *idptest.Server, *observability.Metrics) {
	t.Helper()
	srv := idptest.NewServer(t)
	cfg := srv.Config()
	cfg.AudiencePolicy = policy

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	keys := idp.NewKeyCache(cfg.RealmURL(), cfg.Issuer, cfg.KeyCacheTTL, nil, nil)
	return NewVerifier(keys, cfg, metrics), srv, metrics
}

func TestVerifier_ValidToken(t *testing.T) {
	v, srv, metrics := newTestVerifier(t, config.AudiencePolicyLenient)

	raw := srv.Sign(t, idptest.KeyID, srv.Claims("user-123", "jane@example.com"))
	claims := v.Verify(context.Background(), raw)

	require.NotNil(t, claims)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, srv.Issuer(), claims.Issuer)
	assert.Equal(t, "jane@example.com", claims.Email)
	assert.Equal(t, "jane@example.com", claims.PreferredUsername)
	assert.Equal(t, idptest.ClientID, claims.AuthorizedParty)
	assert.Equal(t, []string{"account"}, claims.Audience)
	assert.Equal(t, []string{"default-roles-" + idptest.Realm}, claims.RealmRoles)
	assert.True(t, claims.AudienceMatched)
	assert.WithinDuration(t, time.Now().Add(idptest.TokenLifetime*time.Second), claims.ExpiresAt, 5*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("valid")))
}

func TestVerifier_RejectedTokens(t *testing.T) {
	v, srv, metrics := newTestVerifier(t, config.AudiencePolicyLenient)

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, srv.Claims("user-123", "jane@example.com"))
	forged.Header["kid"] = idptest.KeyID
	forgedRaw, err := forged.SignedString(otherKey)
	require.NoError(t, err)

	hmac := jwt.NewWithClaims(jwt.SigningMethodHS256, srv.Claims("user-123", "jane@example.com"))
	hmac.Header["kid"] = idptest.KeyID
	hmacRaw, err := hmac.SignedString([]byte("secret"))
	require.NoError(t, err)

	expired := srv.Claims("user-123", "jane@example.com")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongIssuer := srv.Claims("user-123", "jane@example.com")
	wrongIssuer["iss"] = "https://elsewhere.example.com/realms/other"

	noExpiry := srv.Claims("user-123", "jane@example.com")
	delete(noExpiry, "exp")

	tests := []struct {
		name   string
		raw    string
		result string
	}{
		{"garbage", "not-a-jwt", "malformed"},
		{"missing kid", srv.Sign(t, "", srv.Claims("user-123", "jane@example.com")), "missing_kid"},
		{"unknown kid", srv.Sign(t, "rotated-away", srv.Claims("user-123", "jane@example.com")), "unknown_kid"},
		{"foreign signature", forgedRaw, "invalid_signature"},
		{"wrong algorithm", hmacRaw, "invalid_signature"},
		{"expired", srv.Sign(t, idptest.KeyID, expired), "expired"},
		{"wrong issuer", srv.Sign(t, idptest.KeyID, wrongIssuer), "invalid_issuer"},
		{"no expiry", srv.Sign(t, idptest.KeyID, noExpiry), "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues(tt.result))
			assert.Nil(t, v.Verify(context.Background(), tt.raw))
			after := testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues(tt.result))
			assert.Equal(t, before+1, after)
		})
	}
}

func TestVerifier_AudiencePolicy(t *testing.T) {
	foreign := func(srv *idptest.Server) jwt.MapClaims {
		c := srv.Claims("user-123", "jane@example.com")
		c["aud"] = []string{"some-other-api"}
		c["azp"] = "some-other-client"
		return c
	}

	t.Run("lenient accepts and records mismatch", func(t *testing.T) {
		v, srv, _ := newTestVerifier(t, config.AudiencePolicyLenient)
		claims := v.Verify(context.Background(), srv.Sign(t, idptest.KeyID, foreign(srv)))
		require.NotNil(t, claims)
		assert.False(t, claims.AudienceMatched)
	})

	t.Run("strict rejects mismatch", func(t *testing.T) {
		v, srv, metrics := newTestVerifier(t, config.AudiencePolicyStrict)
		assert.Nil(t, v.Verify(context.Background(), srv.Sign(t, idptest.KeyID, foreign(srv))))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("audience_mismatch")))
	})

	t.Run("strict accepts azp match", func(t *testing.T) {
		v, srv, _ := newTestVerifier(t, config.AudiencePolicyStrict)
		claims := v.Verify(context.Background(), srv.Sign(t, idptest.KeyID, srv.Claims("user-123", "jane@example.com")))
		require.NotNil(t, claims)
		assert.True(t, claims.AudienceMatched)
	})

	t.Run("strict accepts aud match", func(t *testing.T) {
		v, srv, _ := newTestVerifier(t, config.AudiencePolicyStrict)
		c := foreign(srv)
		c["aud"] = idptest.ClientID
		claims := v.Verify(context.Background(), srv.Sign(t, idptest.KeyID, c))
		require.NotNil(t, claims)
		assert.Equal(t, []string{idptest.ClientID}, claims.Audience)
	})
}

func TestVerifier_KeysUnavailable(t *testing.T) {
	srv := idptest.NewServer(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	v := NewVerifier(failingKeys{}, srv.Config(), metrics)

	raw := srv.Sign(t, idptest.KeyID, srv.Claims("user-123", "jane@example.com"))
	assert.Nil(t, v.Verify(context.Background(), raw))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("keys_unavailable")))
}

func TestNewVerifier_Defaults(t *testing.T) {
	v := NewVerifier(failingKeys{}, config.IdPConfig{BaseURL: "http://idp:8080/", Realm: "r", ClientID: "c"}, nil)
	assert.Equal(t, "RS256", v.algorithm)
	assert.Equal(t, "http://idp:8080/realms/r", v.issuer)
	assert.False(t, v.strictAud)
}

func TestVerifier_PicksUpRotatedKey(t *testing.T) {
	srv := idptest.NewServer(t)
	cfg := srv.Config()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	keys := idp.NewKeyCache(cfg.RealmURL(), cfg.Issuer, cfg.KeyCacheTTL, nil, nil)
	keys.SetMinRefreshInterval(0)
	v := NewVerifier(keys, cfg, metrics)
	ctx := context.Background()

	before := srv.Sign(t, idptest.KeyID, srv.Claims("user-123", "jane@example.com"))
	require.NotNil(t, v.Verify(ctx, before))
	require.Equal(t, 1, srv.JWKSFetches())

	srv.RotateKey(t, "rotated-key")
	after := srv.Sign(t, "rotated-key", srv.Claims("user-123", "jane@example.com"))

	claims := v.Verify(ctx, after)
	require.NotNil(t, claims, "token signed with the new key verifies without waiting for the TTL")
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, 2, srv.JWKSFetches())

	// the new key is now cached
	require.NotNil(t, v.Verify(ctx, after))
	assert.Equal(t, 2, srv.JWKSFetches())

	// the retired key is gone from the refreshed set
	assert.Nil(t, v.Verify(ctx, before))
}

func TestVerifier_UnknownKidRefreshIsRateLimited(t *testing.T) {
	v, srv, metrics := newTestVerifier(t, config.AudiencePolicyLenient)
	ctx := context.Background()

	require.NotNil(t, v.Verify(ctx, srv.Sign(t, idptest.KeyID, srv.Claims("user-123", "jane@example.com"))))
	for i := 0; i < 5; i++ {
		assert.Nil(t, v.Verify(ctx, srv.Sign(t, "bogus", srv.Claims("user-123", "jane@example.com"))))
	}
	assert.Equal(t, 1, srv.JWKSFetches(), "forced refreshes are spaced by the minimum interval")
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.TokenVerificationsTotal.WithLabelValues("unknown_kid")))
}
