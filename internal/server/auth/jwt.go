// Package auth mints and checks the short-lived session tokens handed out
// after a successful OTP verification.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the verified identity next to the registered claims.
type Claims struct {
	jwt.RegisteredClaims
	Identity string `json:"identity"`
}

// GenerateToken signs a session for identity that expires ttl after now.
func GenerateToken(identity string, secretKey []byte, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   identity,
		},
		Identity: identity,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// IdentityFromToken returns the identity of a valid session token. Expired
// tokens yield common.ErrTokenExpired, anything else common.ErrInvalidToken.
func IdentityFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.Identity == "" {
		return "", common.ErrInvalidToken
	}
	return claims.Identity, nil
}
