// Package session issues the per-player tokens that authenticate rejoining
// and websocket connections. Only a token's digest is ever stored.
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

var ErrInvalidToken = errors.New("invalid session token")

const tokenBytes = 32

// NewToken returns a random token and the digest to persist for it.
func NewToken() (token, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, Digest(token), nil
}

// Digest is the hex BLAKE2b-256 of token.
func Digest(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether token hashes to digest. An empty digest never
// matches.
func Verify(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(Digest(token)), []byte(digest)) == 1
}
