package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	token, err := m.Generate("user-42")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sub, err := m.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", sub)
}

func TestJWTWrongSecret(t *testing.T) {
	token, err := NewManager("secret-a", time.Hour).Generate("user-1")
	require.NoError(t, err)

	_, err = NewManager("secret-b", time.Hour).Validate(token)
	assert.Error(t, err)
}

func TestJWTExpired(t *testing.T) {
	// Built directly because NewManager replaces non-positive TTLs with the
	// default.
	m := &Manager{secret: []byte("test-secret"), ttl: -time.Minute}

	token, err := m.Generate("user-1")
	require.NoError(t, err)

	_, err = m.Validate(token)
	assert.Error(t, err)
}

func TestJWTGarbage(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	_, err := m.Validate("not.a.token")
	assert.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}
