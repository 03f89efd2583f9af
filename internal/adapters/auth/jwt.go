// Package auth implements the identity verifier port over HMAC-signed JWTs.
// Token issuance lives elsewhere; this side only maps a bearer credential
// to a stable identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ormond/waypoint/internal/domain"
)

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Username string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, credential string) (*domain.User, error) {
	token, err := jwt.ParseWithClaims(credential, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}

	username := c.Username
	if username == "" {
		username = c.Subject
	}
	user, err := domain.NewUser(domain.UserID(c.Subject), username, c.Avatar)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return user, nil
}
