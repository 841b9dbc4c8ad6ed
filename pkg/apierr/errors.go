// Package apierr defines the error taxonomy shared by the identity provider
// client, the session layer and the organization model. HTTP handlers map a
// Kind to a status code; everything else only wraps and propagates.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers
type Kind string

const (
	KindUnauthenticated         Kind = "unauthenticated"
	KindInsufficientPermissions Kind = "insufficient_permissions"
	KindNotAMember              Kind = "not_a_member"
	KindNotFound                Kind = "not_found"
	KindBadRequest              Kind = "bad_request"
	KindIdpUnavailable          Kind = "idp_unavailable"
	KindIdpAuthFailure          Kind = "idp_auth_failure"
	KindRateLimited             Kind = "rate_limited"
	KindInternal                Kind = "internal"
)

// Error is a classified error. Message is safe to show to API clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel values work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is checks. They carry no message so they match any
// error of the kind.
var (
	ErrUnauthenticated         = &Error{Kind: KindUnauthenticated}
	ErrInsufficientPermissions = &Error{Kind: KindInsufficientPermissions}
	ErrNotAMember              = &Error{Kind: KindNotAMember}
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrBadRequest              = &Error{Kind: KindBadRequest}
	ErrIdpUnavailable          = &Error{Kind: KindIdpUnavailable}
	ErrIdpAuthFailure          = &Error{Kind: KindIdpAuthFailure}
	ErrRateLimited             = &Error{Kind: KindRateLimited}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated reports a missing, invalid or expired credential
func Unauthenticated(format string, args ...interface{}) *Error {
	return newf(KindUnauthenticated, format, args...)
}

// InsufficientPermissions reports an actor lacking an owning membership
func InsufficientPermissions(format string, args ...interface{}) *Error {
	return newf(KindInsufficientPermissions, format, args...)
}

// NotAMember reports an operation on an organization the user does not belong to
func NotAMember(format string, args ...interface{}) *Error {
	return newf(KindNotAMember, format, args...)
}

// NotFound reports a missing organization, membership, user or invitation
func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// BadRequest reports invalid caller input
func BadRequest(format string, args ...interface{}) *Error {
	return newf(KindBadRequest, format, args...)
}

// RateLimited reports a throttled caller
func RateLimited(format string, args ...interface{}) *Error {
	return newf(KindRateLimited, format, args...)
}

// IdpUnavailable reports an unreachable or misbehaving identity provider.
// message should carry the upstream diagnostic when there is one.
func IdpUnavailable(message string, err error) *Error {
	return &Error{Kind: KindIdpUnavailable, Message: message, Err: err}
}

// IdpAuthFailure reports that the identity provider rejected our own
// administrative credentials.
func IdpAuthFailure(message string, err error) *Error {
	return &Error{Kind: KindIdpAuthFailure, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of the first *Error in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal server error"
}

// AsPrecondition turns a NotFound into a BadRequest with the same message.
// Mutation handlers use it: a missing target there is a failed precondition,
// not a missing resource.
func AsPrecondition(err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindNotFound {
		return &Error{Kind: KindBadRequest, Message: e.Message, Err: e.Err}
	}
	return err
}
