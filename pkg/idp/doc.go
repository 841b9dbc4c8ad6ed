// Package idp is the client side of the OpenID Connect identity provider.
//
// It has three parts:
//
//   - KeyCache serves the realm's JWKS, refetched lazily once older than
//     its TTL.
//   - AdminBroker holds the management API credential and re-acquires it
//     after a 401.
//   - Client wraps the token endpoints and the user admin API with typed
//     requests and responses.
//
// Errors are classified with package apierr: an unreachable or misbehaving
// provider is IdpUnavailable, a rejected admin credential is IdpAuthFailure.
package idp
