// Package identity resolves opaque identity tokens to owning users. The PKI
// layer issuing the tokens is an external collaborator; the core only needs
// the owning user id for charging.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidIdentity marks an unresolvable sender or receiver token. It is a
// fatal abort for the whole forward.
var ErrInvalidIdentity = errors.New("identity: invalid identity")

// Resolver maps identity tokens to user ids.
type Resolver interface {
	OwnerOf(token string) (int64, error)
}

// Claims is the JWT payload carried by identity tokens.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenResolver validates HS256 identity tokens.
type TokenResolver struct {
	secret []byte
}

// NewTokenResolver builds a resolver with the shared signing secret.
func NewTokenResolver(secret string) *TokenResolver {
	return &TokenResolver{secret: []byte(secret)}
}

// OwnerOf verifies the token and returns the owning user id.
func (r *TokenResolver) OwnerOf(token string) (int64, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == 0 {
		return 0, fmt.Errorf("%w: missing user claim", ErrInvalidIdentity)
	}
	return claims.UserID, nil
}

// Issue signs a token for the given user; used by tooling and tests.
func (r *TokenResolver) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID == 0 {
		return "", errors.New("identity: user id required")
	}
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
