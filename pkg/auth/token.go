// Package auth is the narrow interface to the identity service: it
// verifies a signed token carrying (subject, role). The relay trusts
// the verified subject per connection and performs no other checks.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/finchsocial/finch/pkg/errors"
)

// Identity is the verified identity carried by a token
type Identity struct {
	Subject string
	Role    string
}

// Claims is the token payload
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer mints signed tokens. Used by tests and the demo client; in
// production tokens come from the identity service.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewIssuer creates an issuer
func NewIssuer(secret []byte, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue mints a token for a subject
func (i *Issuer) Issue(subject, role string) (string, error) {
	now := time.Now()

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "TOKEN_SIGN", "failed to sign token")
	}

	return signed, nil
}

// Verifier validates tokens
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier
func NewVerifier(secret []byte, issuer string) *Verifier {
	return &Verifier{secret: secret, issuer: issuer}
}

// Verify parses and validates a token, returning its identity
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New(errors.ErrorTypeUnauthorized, "TOKEN_ALG", "unexpected signing method")
			}
			return v.secret, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Identity{}, errors.Wrap(err, errors.ErrorTypeUnauthorized, "TOKEN_INVALID", "token verification failed")
	}

	if claims.Subject == "" {
		return Identity{}, errors.New(errors.ErrorTypeUnauthorized, "TOKEN_SUBJECT", "token has no subject")
	}

	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}
