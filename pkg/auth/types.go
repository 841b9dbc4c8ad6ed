package auth

import (
	"time"

	"github.com/platinummonkey/tenantgate/pkg/idp"
)

// User is the local mirror of an identity provider account. ID is the
// provider's subject.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	FullName    string     `json:"full_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// TokenPair is returned by every credential-issuing operation
type TokenPair = idp.TokenPair

// SignUpRequest registers a new account
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// SignInRequest authenticates with a password
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries a refresh token in the body. It may be omitted in
// favour of the refresh cookie.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest replaces the caller's password
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// UpdateProfileRequest changes the caller's display name
type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

// ValidateResult reports whether a token verifies. Sub and Exp are null for
// invalid tokens.
type ValidateResult struct {
	Valid bool    `json:"valid"`
	Sub   *string `json:"sub"`
	Exp   *int64  `json:"exp"`
}
