// Package auth maps bearer tokens to caller identities.
//
// Tokens are HS256 JWTs whose subject is the caller's identity. The engine
// never sees tokens; transports resolve the identity here and pass it on.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/medgate/internal/errs"
	"github.com/and161185/medgate/internal/model"
)

const defaultLeeway = 30 * time.Second

// Verifier checks tokens signed with a shared key.
type Verifier struct {
	key    []byte
	leeway time.Duration
}

// NewVerifier builds a verifier for key.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{key: key, leeway: defaultLeeway}
}

// Verify validates token and returns its subject. Every failure wraps errs.ErrUnauthenticated.
func (v *Verifier) Verify(token string) (model.Identity, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return v.key, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil || !parsed.Valid {
		return model.NilIdentity, fmt.Errorf("%w: invalid token", errs.ErrUnauthenticated)
	}

	id, err := model.ParseIdentity(claims.Subject)
	if err != nil || id == model.NilIdentity {
		return model.NilIdentity, fmt.Errorf("%w: bad subject", errs.ErrUnauthenticated)
	}
	return id, nil
}

// Issue signs a token for sub valid for ttl from now.
func Issue(key []byte, sub model.Identity, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: empty signing key", errs.ErrInvalidArgument)
	}
	if sub == model.NilIdentity {
		return "", fmt.Errorf("%w: empty subject", errs.ErrInvalidArgument)
	}
	claims := jwt.RegisteredClaims{
		Subject:   sub.String(),
		Issuer:    "medgate",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	v := strings.TrimSpace(header)
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		if t := strings.TrimSpace(v[7:]); t != "" {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: no bearer token", errs.ErrUnauthenticated)
}
