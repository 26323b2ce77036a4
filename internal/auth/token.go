// Package auth provides token signing, password hashing, request
// authentication middleware, and the GitHub OAuth client.
//
// TOKEN FLOW OVERVIEW:
//  1. Client POSTs email + password to /user/token
//  2. The auth service verifies the password and asks TokenSigner for a key
//  3. The key is stored in auth_tokens (one row per user) and returned
//  4. On later requests the client sends "Authorization: Token <key>"
//  5. RequireToken resolves the key back to a user and puts it in the context
//
// WHY SIGN A KEY THAT IS ALSO STORED?
// The database row is what makes a key live: deleting it logs the user out and
// issuing a new one replaces it. The HS256 signature lets the server throw away
// forged or mistyped keys without touching the database at all.
//
// KEY STRUCTURE (a standard JWT):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"42","jti":"cv37rs3pp9olc6atsptg","iat":...,"iss":"recipe-api"}
//	- jti is an xid, so two keys for the same user never collide
//
// Clients must treat the key as opaque.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"
)

const issuer = "recipe-api"

// TokenSigner creates and verifies token keys.
//
// It holds the HMAC secret used for both operations and an optional lifetime.
// A zero TTL means keys do not expire on their own; they live until the user
// logs out or a new key replaces them.
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSigner creates a TokenSigner with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: TOKEN_SECRET=$(openssl rand -hex 32)
func NewTokenSigner(secret string, ttl time.Duration) (*TokenSigner, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	if ttl < 0 {
		return nil, errors.New("auth: token ttl must not be negative")
	}
	return &TokenSigner{secret: []byte(secret), ttl: ttl}, nil
}

// Generate signs a new key for userID.
func (s *TokenSigner) Generate(userID int64) (string, error) {
	return s.generate(userID, time.Now(), s.ttl)
}

func (s *TokenSigner) generate(userID int64, now time.Time, ttl time.Duration) (string, error) {
	c := jwt.RegisteredClaims{
		ID:       xid.NewWithTime(now).String(),
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   issuer,
	}
	if ttl != 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature, issuer and (if present) expiry of key and
// returns the user id it was issued for.
//
// It does NOT prove the key is still live; the caller must also find it in
// the token store.
//
// ALGORITHM CONFUSION ATTACK:
// jwt.WithValidMethods pins HS256 so a key claiming "alg":"none" or an RSA
// algorithm is rejected before the secret is ever used.
func (s *TokenSigner) Validate(key string) (int64, error) {
	token, err := jwt.ParseWithClaims(
		key,
		&jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, errors.New("auth: token expired")
		}
		return 0, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return 0, errors.New("auth: invalid token claims")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, fmt.Errorf("auth: token subject %q is not a user id", c.Subject)
	}
	return userID, nil
}
