package tokens

import (
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
)

const (
	DefaultSessionTTL = 30 * 24 * time.Hour
	sessionTokenBytes = 32
)

// RandomIssuer mints URL-safe random tokens. Validity lives entirely in
// storage, so Check only rejects values that cannot have been issued.
type RandomIssuer struct {
	hasher *Hasher
	ttl    time.Duration
}

func NewRandomIssuer(h *Hasher, ttl time.Duration) *RandomIssuer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RandomIssuer{hasher: h, ttl: ttl}
}

func (i *RandomIssuer) Issue(_ string, now time.Time) (Token, error) {
	plain, err := common.MakeRandURLString(sessionTokenBytes)
	if err != nil {
		return Token{}, err
	}
	return Token{Plain: plain, Hash: i.hasher.Hash(plain), ExpiresAt: now.Add(i.ttl)}, nil
}

func (i *RandomIssuer) Check(plain string, _ time.Time) (string, error) {
	if plain == "" || len(plain) > 256 {
		return "", common.ErrTokenInvalidOrExpired
	}
	return i.hasher.Hash(plain), nil
}

func (i *RandomIssuer) TTL() time.Duration { return i.ttl }
