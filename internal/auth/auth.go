// Package auth verifies the tokens clients present when authenticating a
// session. Token issuance lives in the authentication collaborator; this
// side only checks the signature and extracts the identity.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strelka-im/realtime/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSubject    = errors.New("token has no subject")
)

type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

type sessionClaims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verify parses an HS256 token and returns the user it identifies.
func (v *TokenVerifier) Verify(token string) (domain.User, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.User{}, ErrNoSubject
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}
	return domain.User{ID: domain.UserID(claims.Subject), DisplayName: name}, nil
}
