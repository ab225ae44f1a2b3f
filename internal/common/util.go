package common

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
)

// MakeRandURLString generates size random bytes encoded as unpadded base64url.
func MakeRandURLString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateRandByteArray returns size bytes from crypto/rand.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	_, _ = rand.Read(b)
	return b
}

// WipeByteArray overwrites b with zeros. Nil is fine.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
// Every lookup keyed by email goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName trims and collapses internal whitespace runs to one space.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
