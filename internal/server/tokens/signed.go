package tokens

import (
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/server/auth"
)

const DefaultResetTTL = 60 * time.Minute

// SignedIssuer mints HS256 JWTs. Check verifies signature and expiry before
// storage is consulted, so forged or stale links never reach the database.
type SignedIssuer struct {
	hasher  *Hasher
	secret  []byte
	purpose string
	ttl     time.Duration
}

func NewSignedIssuer(h *Hasher, secret []byte, purpose string, ttl time.Duration) *SignedIssuer {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &SignedIssuer{hasher: h, secret: secret, purpose: purpose, ttl: ttl}
}

func (i *SignedIssuer) Issue(subject string, now time.Time) (Token, error) {
	plain, err := auth.GenerateToken(subject, i.purpose, i.secret, i.ttl, now)
	if err != nil {
		return Token{}, err
	}
	return Token{Plain: plain, Hash: i.hasher.Hash(plain), ExpiresAt: now.Add(i.ttl)}, nil
}

func (i *SignedIssuer) Check(plain string, now time.Time) (string, error) {
	if plain == "" {
		return "", common.ErrTokenInvalidOrExpired
	}
	if _, err := auth.ParseToken(plain, i.purpose, i.secret, now); err != nil {
		return "", common.ErrTokenInvalidOrExpired
	}
	return i.hasher.Hash(plain), nil
}

func (i *SignedIssuer) TTL() time.Duration { return i.ttl }
