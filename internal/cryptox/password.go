// Package cryptox implements password hashing (PBKDF2-SHA256) and the
// credential format rules enforced on registration and password changes.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Scheme is the prefix of every stored hash.
	Scheme = "pbkdf2_sha256"

	DefaultIterations = 310_000
	SaltSize          = 16
	KeySize           = 32
)

// HashPassword derives a PBKDF2-SHA256 hash with DefaultIterations and a fresh
// random salt, encoded as pbkdf2_sha256$<iterations>$<salt_b64>$<hash_b64>.
func HashPassword(password string) (string, error) {
	return HashPasswordWithIterations(password, DefaultIterations)
}

// HashPasswordWithIterations is HashPassword with an explicit work factor.
func HashPasswordWithIterations(password string, iterations int) (string, error) {
	if iterations <= 0 {
		return "", fmt.Errorf("invalid iteration count %d", iterations)
	}
	salt := common.GenerateRandByteArray(SaltSize)
	key := pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
	return encode(iterations, salt, key), nil
}

// VerifyPassword reports whether password matches the stored hash. Malformed
// hashes and unknown schemes never verify.
func VerifyPassword(password, stored string) bool {
	iterations, salt, want, ok := decode(stored)
	if !ok {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// DummyHash returns a valid hash of a throwaway password. It is computed once,
// on first use, and lets callers spend the same time on unknown accounts as on
// known ones.
func DummyHash() string {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("dummy-timing-pad-" + string(common.GenerateRandByteArray(8)))
	})
	return dummyHash
}

func encode(iterations int, salt, key []byte) string {
	return strings.Join([]string{
		Scheme,
		strconv.Itoa(iterations),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	}, "$")
}

func decode(stored string) (iterations int, salt, key []byte, ok bool) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != Scheme {
		return 0, nil, nil, false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, false
	}
	salt, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, false
	}
	key, err = base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, false
	}
	return iterations, salt, key, true
}
