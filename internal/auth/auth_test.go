package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, expiration time.Duration) *JWTManager {
	t.Helper()
	m, err := NewJWTManager("", "", expiration)
	require.NoError(t, err)
	return m
}

func TestIssueAndValidateToken(t *testing.T) {
	m := newManager(t, time.Hour)

	token, exp, err := m.IssueToken("svc-notebooks", RoleUser)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "svc-notebooks", claims.ClientID)
	assert.Equal(t, RoleUser, claims.Role)
	assert.Equal(t, "datascout", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	m := newManager(t, -time.Minute)

	token, _, err := m.IssueToken("svc-notebooks", RoleUser)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenFromOtherKey(t *testing.T) {
	issuer := newManager(t, time.Hour)
	verifier := newManager(t, time.Hour)

	token, _, err := issuer.IssueToken("svc-notebooks", RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err, "a token signed by a different key must not validate")
}

func TestValidateGarbageToken(t *testing.T) {
	m := newManager(t, time.Hour)

	_, err := m.ValidateToken("not.a.jwt")
	assert.Error(t, err)

	_, err = m.ValidateToken("")
	assert.Error(t, err)
}

func TestValidateTamperedToken(t *testing.T) {
	m := newManager(t, time.Hour)

	token, _, err := m.IssueToken("svc-notebooks", RoleUser)
	require.NoError(t, err)

	tampered := token[:len(token)-4] + "AAAA"
	_, err = m.ValidateToken(tampered)
	assert.Error(t, err)
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	encoded, err := HashAPIKey("ds_live_abc123")
	require.NoError(t, err)
	assert.Contains(t, encoded, "$")

	ok, err := VerifyAPIKey("ds_live_abc123", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyAPIKey("ds_live_wrong", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashAPIKeyUniqueSalts(t *testing.T) {
	a, err := HashAPIKey("same-key")
	require.NoError(t, err)
	b, err := HashAPIKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyAPIKeyBadFormat(t *testing.T) {
	_, err := VerifyAPIKey("key", "no-dollar-sign")
	assert.Error(t, err)
}
