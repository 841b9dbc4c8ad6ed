package token

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// KeySource supplies the current signing key set
type KeySource interface {
	Keys(ctx context.Context) (jwk.Set, error)
}

// keyRefresher is implemented by key sources that can refetch on demand.
// The verifier uses it once per token when the kid is not in the held set,
// which is how a provider key rotation is picked up before the cache TTL.
type keyRefresher interface {
	Refresh(ctx context.Context) (jwk.Set, error)
}

// VerifiedClaims is the identity carried by a token that passed
// verification. It is produced per request and never cached.
type VerifiedClaims struct {
	Subject           string
	Issuer            string
	Audience          []string
	AuthorizedParty   string
	ExpiresAt         time.Time
	RealmRoles        []string
	Email             string
	PreferredUsername string

	// AudienceMatched reports whether the token names this client in aud or
	// azp. Under the lenient policy a false value is still accepted.
	AudienceMatched bool
}

type accessClaims struct {
	jwt.RegisteredClaims
	AuthorizedParty   string `json:"azp,omitempty"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles,omitempty"`
	} `json:"realm_access"`
}

var (
	errMissingKid      = errors.New("token header missing kid")
	errUnknownKid      = errors.New("no signing key matches kid")
	errKeysUnavailable = errors.New("signing keys unavailable")
	errAudience        = errors.New("token audience does not include this client")
)

// Verifier checks bearer tokens against the identity provider's signing keys
type Verifier struct {
	keys      KeySource
	algorithm string
	issuer    string
	clientID  string
	strictAud bool
	metrics   *observability.Metrics
}

// NewVerifier creates a verifier for tokens issued to cfg.ClientID by
// cfg.Issuer.
func NewVerifier(keys KeySource, cfg config.IdPConfig, metrics *observability.Metrics) *Verifier {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = jwt.SigningMethodRS256.Alg()
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = cfg.RealmURL()
	}
	return &Verifier{
		keys:      keys,
		algorithm: algorithm,
		issuer:    issuer,
		clientID:  cfg.ClientID,
		strictAud: cfg.AudiencePolicy == config.AudiencePolicyStrict,
		metrics:   metrics,
	}
}

// Verify returns the claims of raw, or nil if the token is malformed,
// unsigned by a known key, expired, from another issuer or (under the strict
// policy) not addressed to this client. The reason is logged at debug level
// and counted, never returned.
func (v *Verifier) Verify(ctx context.Context, raw string) *VerifiedClaims {
	claims, err := v.verify(ctx, raw)
	result := resultOf(err)
	v.metrics.ObserveTokenVerification(result)
	if err != nil {
		observability.FromContext(ctx).
			WithError(err).
			WithField("result", result).
			Debug("token verification failed")
		return nil
	}
	return claims
}

func (v *Verifier) verify(ctx context.Context, raw string) (*VerifiedClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)

	var claims accessClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.keyFor(ctx, t)
	})
	if err != nil {
		return nil, err
	}

	matched := slices.Contains(claims.Audience, v.clientID) || claims.AuthorizedParty == v.clientID
	if !matched && v.strictAud {
		return nil, errAudience
	}

	verified := &VerifiedClaims{
		Subject:           claims.Subject,
		Issuer:            claims.Issuer,
		Audience:          []string(claims.Audience),
		AuthorizedParty:   claims.AuthorizedParty,
		RealmRoles:        claims.RealmAccess.Roles,
		Email:             claims.Email,
		PreferredUsername: claims.PreferredUsername,
		AudienceMatched:   matched,
	}
	if claims.ExpiresAt != nil {
		verified.ExpiresAt = claims.ExpiresAt.Time
	}
	return verified, nil
}

func (v *Verifier) keyFor(ctx context.Context, t *jwt.Token) (interface{}, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errMissingKid
	}

	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errKeysUnavailable, err)
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		refresher, ok := v.keys.(keyRefresher)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errUnknownKid, kid)
		}
		set, err = refresher.Refresh(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errKeysUnavailable, err)
		}
		if key, found = set.LookupKeyID(kid); !found {
			return nil, fmt.Errorf("%w: %s", errUnknownKid, kid)
		}
	}

	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export key %s: %w", kid, err)
	}
	return rawKey, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, errMissingKid):
		return "missing_kid"
	case errors.Is(err, errUnknownKid):
		return "unknown_kid"
	case errors.Is(err, errKeysUnavailable):
		return "keys_unavailable"
	case errors.Is(err, errAudience):
		return "audience_mismatch"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "invalid_issuer"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "invalid_signature"
	default:
		return "invalid"
	}
}
