package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// GenerateToken creates a cryptographically secure random token, hex encoded.
// Tokens are handed to clients once and only their hash is kept.
func GenerateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken hashes a token with bcrypt at the given cost. Costs below
// bcrypt.MinCost are raised to it.
func HashToken(token string, cost int) ([]byte, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return bcrypt.GenerateFromPassword([]byte(token), cost)
}

// CompareToken reports whether token matches a hash from HashToken.
func CompareToken(hash []byte, token string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
}

// NewToken generates a token and its hash in one step.
func NewToken(cost int) (token string, hash []byte, err error) {
	token, err = GenerateToken()
	if err != nil {
		return "", nil, err
	}
	hash, err = HashToken(token, cost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash token: %w", err)
	}
	return token, hash, nil
}
