package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hazyhaar/coverbridge/horosafe"
)

// DefaultExpiry is the session lifetime.
const DefaultExpiry = 24 * time.Hour

// Issuer is stamped on and required of every session token.
const Issuer = "coverbridge"

// ErrNoUser rejects a well-signed token that names no user.
var ErrNoUser = errors.New("auth: token has no user")

var parser = jwt.NewParser(
	jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	jwt.WithIssuer(Issuer),
	jwt.WithExpirationRequired(),
	jwt.WithIssuedAt(),
	jwt.WithLeeway(30*time.Second),
)

// GenerateToken signs claims with HS256 for expiry from now. The subject is
// the user ID.
func GenerateToken(secret []byte, claims *SessionClaims, expiry time.Duration) (string, error) {
	if err := horosafe.ValidateSecret(secret); err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	now := time.Now()
	claims.Issuer = Issuer
	claims.Subject = claims.UserID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
func ValidateToken(secret []byte, tokenStr string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, ErrNoUser
	}
	return claims, nil
}
