package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func (a *AuthService) revokedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.revoked)
}

func TestAuthService_LoginAndValidate(t *testing.T) {
	clock := newManualClock()
	auth, err := NewAuthService("hunter2", testSecret, time.Hour, clock, nil)
	require.NoError(t, err)
	require.True(t, auth.Enabled())

	_, _, err = auth.Login("wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expiresAt, err := auth.Login("hunter2")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Hour), expiresAt)

	claims, err := auth.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)

	clock.Advance(time.Hour + time.Second)
	_, err = auth.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestAuthService_RejectsForeignTokens(t *testing.T) {
	clock := newManualClock()
	ours, err := NewAuthService("pw", testSecret, 0, clock, nil)
	require.NoError(t, err)
	theirs, err := NewAuthService("pw", "another-secret-another-secret-xx", 0, clock, nil)
	require.NoError(t, err)

	token, _, err := theirs.Login("pw")
	require.NoError(t, err)

	cases := []struct {
		desc  string
		token string
	}{
		{desc: "other secret", token: token},
		{desc: "garbage", token: "not.a.jwt"},
		{desc: "empty", token: ""},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := ours.Validate(tc.token)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

func TestAuthService_Disabled(t *testing.T) {
	auth, err := NewAuthService("", "", 0, nil, nil)
	require.NoError(t, err)

	assert.False(t, auth.Enabled())
	assert.Equal(t, DefaultSessionTTL, auth.TTL())

	_, _, err = auth.Login("")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestAuthService_GeneratedSecretsDiffer(t *testing.T) {
	a, err := NewAuthService("pw", "", 0, nil, nil)
	require.NoError(t, err)
	b, err := NewAuthService("pw", "", 0, nil, nil)
	require.NoError(t, err)

	token, _, err := a.Login("pw")
	require.NoError(t, err)
	_, err = b.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestAuthService_Revoke(t *testing.T) {
	clock := newManualClock()
	auth, err := NewAuthService("hunter2", testSecret, time.Hour, clock, nil)
	require.NoError(t, err)

	first, _, err := auth.Login("hunter2")
	require.NoError(t, err)
	second, _, err := auth.Login("hunter2")
	require.NoError(t, err)

	require.NoError(t, auth.Revoke(first))
	_, err = auth.Validate(first)
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	_, err = auth.Validate(second)
	assert.NoError(t, err, "other sessions stay valid")

	assert.ErrorIs(t, auth.Revoke("not.a.jwt"), ErrInvalidSession)
	assert.ErrorIs(t, auth.Revoke(first), ErrInvalidSession)
	assert.Equal(t, 1, auth.revokedCount())

	clock.Advance(time.Hour)
	third, _, err := auth.Login("hunter2")
	require.NoError(t, err)
	require.NoError(t, auth.Revoke(third))
	assert.Equal(t, 1, auth.revokedCount(), "expired revocations are swept")
}
