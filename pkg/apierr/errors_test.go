package apierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	err := NotAMember("user is not a member of organization %s", "org-1")

	assert.True(t, errors.Is(err, ErrNotAMember))
	assert.False(t, errors.Is(err, ErrNotFound))

	wrapped := fmt.Errorf("failed to switch organization: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotAMember))
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"plain error is internal", errors.New("boom"), KindInternal},
		{"direct", Unauthenticated("token expired"), KindUnauthenticated},
		{"wrapped", fmt.Errorf("outer: %w", InsufficientPermissions("owner required")), KindInsufficientPermissions},
		{"idp", IdpUnavailable("connection refused", errors.New("dial tcp")), KindIdpUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "internal server error", MessageOf(errors.New("sql: connection reset")))
	assert.Equal(t, "account is not fully set up", MessageOf(fmt.Errorf("x: %w", BadRequest("account is not fully set up"))))
}

func TestError_ErrorString(t *testing.T) {
	err := IdpAuthFailure("admin credential rejected", errors.New("401"))
	assert.Equal(t, "admin credential rejected: 401", err.Error())
	assert.Equal(t, "organization not found", NotFound("organization not found").Error())
}

func TestAsPrecondition(t *testing.T) {
	converted := AsPrecondition(NotFound("membership not found"))
	assert.Equal(t, KindBadRequest, KindOf(converted))
	assert.Equal(t, "membership not found", MessageOf(converted))

	other := NotAMember("nope")
	assert.Same(t, other, AsPrecondition(other))
}
