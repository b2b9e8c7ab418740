package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	assert.Len(t, token, 32)

	// Each call generates a unique token
	token2, err := GenerateToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestHashToken(t *testing.T) {
	hashed, err := HashToken("test-token-12345", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost(hashed)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost, cost)

	assert.True(t, CompareToken(hashed, "test-token-12345"))
	assert.False(t, CompareToken(hashed, "wrong-token"))
	assert.False(t, CompareToken([]byte("not-a-hash"), "test-token-12345"))

	// Same token produces different hashes due to salt
	hashed2, err := HashToken("test-token-12345", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, hashed, hashed2)
}

func TestNewToken(t *testing.T) {
	token, hash, err := NewToken(bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, CompareToken(hash, token))
}
