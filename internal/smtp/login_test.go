package smtp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoginAuthenticate(username, password string) error {
	if username == "gateway" && password == "secret" {
		return nil
	}
	return errors.New("bad credentials")
}

func TestLoginServer_ChallengeFlow(t *testing.T) {
	srv := newLoginServer(testLoginAuthenticate)

	// 无 initial response 时先质询用户名
	challenge, done, err := srv.Next(nil)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Username:"), challenge)

	challenge, done, err = srv.Next([]byte("gateway"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Password:"), challenge)

	_, done, err = srv.Next([]byte("secret"))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestLoginServer_InitialResponse(t *testing.T) {
	srv := newLoginServer(testLoginAuthenticate)

	// 用户名作为 initial response 直接带上
	challenge, done, err := srv.Next([]byte("gateway"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, []byte("Password:"), challenge)

	_, done, err = srv.Next([]byte("wrong"))
	require.Error(t, err)
	assert.True(t, done)
}
