package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-development-32-chars"

func TestManager_GenerateAndValidate(t *testing.T) {
	m := NewManager(testSecret, "smtp-gateway", time.Hour)

	token, err := m.GenerateToken("api-client", "ops@example.com", 0)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "api-client", claims.Subject)
	assert.Equal(t, "ops@example.com", claims.Email)
	assert.Equal(t, "smtp_api_access", claims.Purpose)
	assert.Equal(t, "smtp-gateway", claims.Issuer)
}

func TestManager_ExpiredToken(t *testing.T) {
	m := NewManager(testSecret, "smtp-gateway", time.Hour)

	token, err := m.GenerateToken("api-client", "", -time.Minute)
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_WrongSecret(t *testing.T) {
	m := NewManager(testSecret, "smtp-gateway", time.Hour)
	other := NewManager("another-secret-key-also-32-chars-long!", "smtp-gateway", time.Hour)

	token, err := m.GenerateToken("api-client", "", time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestManager_GarbageToken(t *testing.T) {
	m := NewManager(testSecret, "smtp-gateway", time.Hour)

	_, err := m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
