package providerapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSessionToken = errors.New("invalid session token")
	ErrSessionExpired      = errors.New("session token expired")
)

// SessionClaims are carried by provider-issued web 3DS session tokens.
type SessionClaims struct {
	CheckoutID string `json:"checkout_id"`
	jwt.RegisteredClaims
}

type Session struct {
	Token      string
	CheckoutID string
	ExpiresAt  time.Time
}

// SignSessionToken issues an HS256 session token. The provider simulator
// uses it; production tokens come from the provider.
func SignSessionToken(key []byte, issuer, checkoutID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		CheckoutID: checkoutID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   checkoutID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// VerifySessionToken checks signature, expiry and that the token was issued
// for checkoutID.
func VerifySessionToken(token string, key []byte, checkoutID string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSessionToken
	}
	if claims.CheckoutID != checkoutID {
		return nil, fmt.Errorf("%w: issued for checkout %s", ErrInvalidSessionToken, claims.CheckoutID)
	}

	s := &Session{Token: token, CheckoutID: claims.CheckoutID}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
