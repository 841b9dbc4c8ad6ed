// Package token verifies bearer access tokens issued by the identity
// provider. Signatures are checked against the realm key set selected by the
// token's kid, then issuer, expiry and audience are validated.
package token
