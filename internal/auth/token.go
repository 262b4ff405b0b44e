// Package auth provides room token generation, constant-time comparison,
// and signed identity token verification.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// GenerateRoomToken returns a cryptographically random, URL-safe token of
// at least 24 characters, suitable as a room's authentication token.
func GenerateRoomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateRoomID returns a cryptographically random, URL-safe identifier of
// at least 12 characters.
func GenerateRoomID() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ConstantTimeEquals compares two tokens in constant time. A length
// mismatch is reported in non-constant time, matching [subtle.ConstantTimeCompare]'s
// own documented behavior — this is not a secret-dependent branch since
// token length is not sensitive, only content.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
