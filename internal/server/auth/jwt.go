// Package auth signs and verifies the JWTs used as password-reset links.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// PurposePasswordReset is the only purpose the server issues today.
const PurposePasswordReset = "password_reset"

var ErrInvalidToken = errors.New("invalid token")

// Claims embeds the registered claims and the purpose the token was minted for,
// so a token signed for one flow cannot be replayed in another.
type Claims struct {
	jwt.RegisteredClaims
	Purpose string `json:"pur"`
}

// GenerateToken signs an HS256 token for subject that expires at now+validity.
// Every token carries a random jti so two tokens issued in the same second differ.
func GenerateToken(subject, purpose string, secretKey []byte, validity time.Duration, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		Purpose: purpose,
	})

	return token.SignedString(secretKey)
}

// ParseToken verifies signature, expiry (against now) and purpose.
func ParseToken(tokenString, purpose string, secretKey []byte, now time.Time) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return secretKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
