// Package tokens issues opaque bearer tokens and derives the keyed hash under
// which they are persisted. Sessions and password resets share the Issuer
// interface and differ only in how the plaintext is minted and checked.
package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Token is a freshly minted token. Plain goes to the client, Hash to storage.
type Token struct {
	Plain     string
	Hash      string
	ExpiresAt time.Time
}

type Issuer interface {
	// Issue mints a token for subject valid from now until now+TTL.
	Issue(subject string, now time.Time) (Token, error)
	// Check rejects malformed plaintexts and returns the storage hash.
	// Rejections are common.ErrTokenInvalidOrExpired.
	Check(plain string, now time.Time) (string, error)
	TTL() time.Duration
}

// Hasher computes HMAC-SHA256 of a token under the server secret.
type Hasher struct {
	key []byte
}

func NewHasher(secret []byte) *Hasher {
	k := make([]byte, len(secret))
	copy(k, secret)
	return &Hasher{key: k}
}

func (h *Hasher) Hash(plain string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(plain))
	return hex.EncodeToString(mac.Sum(nil))
}
