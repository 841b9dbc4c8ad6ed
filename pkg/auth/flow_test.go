package auth

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/idp/idptest"
)

func TestFlow_SignUp(t *testing.T) {
	h := newHarness(t)
	flow := h.flow()
	ctx := context.Background()

	pair, err := flow.SignUp(ctx, SignUpRequest{Email: "jane@example.com", Password: "pw", FullName: "Jane Q Doe"})
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims := h.verifier.Verify(ctx, pair.AccessToken)
	require.NotNil(t, claims)
	local := h.users.get(claims.Subject)
	require.NotNil(t, local)
	assert.Equal(t, "jane@example.com", local.Email)
	assert.Equal(t, "Jane Q Doe", local.FullName)

	remote := h.srv.User(claims.Subject)
	require.NotNil(t, remote)
	assert.Equal(t, "Jane", remote.FirstName)
	assert.Equal(t, "Q Doe", remote.LastName)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.UsersProvisionedTotal.WithLabelValues("signup")))

	t.Run("repeat sign-up keeps one account", func(t *testing.T) {
		again, err := flow.SignUp(ctx, SignUpRequest{Email: "jane@example.com", Password: "pw"})
		require.NoError(t, err)
		assert.Equal(t, claims.Subject, h.verifier.Verify(ctx, again.AccessToken).Subject)
		assert.Equal(t, 2, h.srv.CreateCalls())
		assert.Equal(t, 1, h.users.creates)
	})

	t.Run("repeat sign-up with another password", func(t *testing.T) {
		_, err := flow.SignUp(ctx, SignUpRequest{Email: "jane@example.com", Password: "other"})
		assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := flow.SignUp(ctx, SignUpRequest{Email: "jane@example.com"})
		assert.ErrorIs(t, err, apierr.ErrBadRequest)
	})
}

func TestFlow_SignUpEmailLinkedToAnotherAccount(t *testing.T) {
	h := newHarness(t)
	h.users.byID["stale-user"] = &User{ID: "stale-user", Email: "jane@example.com"}

	_, err := h.flow().SignUp(context.Background(), SignUpRequest{Email: "jane@example.com", Password: "pw"})
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
	assert.Equal(t, "email is linked to another account", apierr.MessageOf(err))
	assert.Zero(t, h.users.creates)
}

func TestFlow_SignUpDerivesNames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pair, err := h.flow().SignUp(ctx, SignUpRequest{Email: "john_smith@example.com", Password: "pw"})
	require.NoError(t, err)

	sub := h.verifier.Verify(ctx, pair.AccessToken).Subject
	assert.Equal(t, "John Smith", h.users.get(sub).FullName)
	assert.Equal(t, "John", h.srv.User(sub).FirstName)
	assert.Equal(t, "Smith", h.srv.User(sub).LastName)
}

func TestFlow_SignIn(t *testing.T) {
	h := newHarness(t)
	flow := h.flow()
	ctx := context.Background()
	id := h.srv.AddUser("jane@example.com", "pw", "Jane", "Doe")
	h.users.byID[id] = &User{ID: id, Email: "jane@example.com"}

	pair, err := flow.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotNil(t, h.users.get(id).LastLoginAt)

	_, err = flow.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	assert.Equal(t, "Invalid credentials", apierr.MessageOf(err))

	t.Run("no local row is not an error", func(t *testing.T) {
		h.srv.AddUser("remote@example.com", "pw", "Re", "Mote")
		_, err := flow.SignIn(ctx, SignInRequest{Email: "remote@example.com", Password: "pw"})
		require.NoError(t, err)
	})

	t.Run("account not set up", func(t *testing.T) {
		pending := h.srv.AddUser("pending@example.com", "pw", "", "")
		h.srv.SetRequiredActions(pending, "VERIFY_EMAIL")
		_, err := flow.SignIn(ctx, SignInRequest{Email: "pending@example.com", Password: "pw"})
		assert.ErrorIs(t, err, apierr.ErrBadRequest)
	})
}

func TestFlow_RefreshAndLogout(t *testing.T) {
	h := newHarness(t)
	flow := h.flow()
	ctx := context.Background()
	h.srv.AddUser("jane@example.com", "pw", "Jane", "Doe")

	pair, err := flow.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "pw"})
	require.NoError(t, err)

	refreshed, err := flow.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, refreshed.RefreshToken)

	_, err = flow.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	assert.Equal(t, "Invalid refresh token", apierr.MessageOf(err))

	_, err = flow.Refresh(ctx, "")
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	require.NoError(t, flow.Logout(ctx, refreshed.RefreshToken))
	_, err = flow.Refresh(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)

	err = flow.Logout(ctx, refreshed.RefreshToken)
	assert.ErrorIs(t, err, apierr.ErrIdpUnavailable)

	assert.NoError(t, flow.Logout(ctx, ""))
}

func TestFlow_ChangePassword(t *testing.T) {
	h := newHarness(t)
	flow := h.flow()
	ctx := context.Background()
	id := h.srv.AddUser("jane@example.com", "old-pw", "Jane", "Doe")
	user := &User{ID: id, Email: "jane@example.com"}

	err := flow.ChangePassword(ctx, user, ChangePasswordRequest{OldPassword: "wrong", NewPassword: "new-pw"})
	assert.ErrorIs(t, err, apierr.ErrBadRequest)

	require.NoError(t, flow.ChangePassword(ctx, user, ChangePasswordRequest{OldPassword: "old-pw", NewPassword: "new-pw"}))

	_, err = flow.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "old-pw"})
	assert.ErrorIs(t, err, apierr.ErrUnauthenticated)
	_, err = flow.SignIn(ctx, SignInRequest{Email: "jane@example.com", Password: "new-pw"})
	assert.NoError(t, err)
}

func TestFlow_Validate(t *testing.T) {
	h := newHarness(t)
	flow := h.flow()
	ctx := context.Background()

	claims := h.srv.Claims("user-1", "u@example.com")
	result := flow.Validate(ctx, h.srv.Sign(t, idptest.KeyID, claims))
	assert.True(t, result.Valid)
	require.NotNil(t, result.Sub)
	assert.Equal(t, "user-1", *result.Sub)
	require.NotNil(t, result.Exp)
	assert.EqualValues(t, claims["exp"], *result.Exp)

	invalid := flow.Validate(ctx, "garbage")
	assert.Equal(t, ValidateResult{}, invalid)
	assert.Equal(t, ValidateResult{}, flow.Validate(ctx, ""))
}

func TestFlow_UpdateProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.srv.AddUser("jane@example.com", "pw", "Jane", "Doe")
	h.users.byID[id] = &User{ID: id, Email: "jane@example.com", FullName: "Jane Doe"}

	updated, err := h.flow().UpdateProfile(ctx, h.users.get(id), UpdateProfileRequest{FullName: "Janet Smith"})
	require.NoError(t, err)
	assert.Equal(t, "Janet Smith", updated.FullName)
	assert.Equal(t, "Janet Smith", h.users.get(id).FullName)
	assert.Equal(t, "Janet", h.srv.User(id).FirstName)
	assert.Equal(t, "Smith", h.srv.User(id).LastName)

	_, err = h.flow().UpdateProfile(ctx, h.users.get(id), UpdateProfileRequest{FullName: " "})
	assert.ErrorIs(t, err, apierr.ErrBadRequest)
}
