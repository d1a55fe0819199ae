// Package auth provides stateless session tokens using JWT.
// Designed for horizontal scaling - no shared state between instances.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/metergate/ports"
	"github.com/golang-jwt/jwt/v5"
)

// Issuer is the iss claim of every session token.
const Issuer = "metergate"

// MinSecretLen is the shortest accepted signing secret.
const MinSecretLen = 16

var (
	// ErrEmptyToken is returned when no token was presented.
	ErrEmptyToken = errors.New("empty token")

	// ErrWeakSecret is returned when the signing secret is too short.
	ErrWeakSecret = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
)

// Claims represents the JWT claims of a session token.
type Claims struct {
	AccountID string `json:"aid"`
	Identity  string `json:"identity"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 session tokens.
// Thread-safe and suitable for concurrent use.
type TokenService struct {
	secret []byte
	ttl    time.Duration // zero means tokens never expire
	clock  ports.Clock
	parser *jwt.Parser
}

// NewTokenService creates a token service. The secret is loaded once at
// startup; rotating it invalidates every issued token.
func NewTokenService(secret string, ttl time.Duration, clock ports.Clock) (*TokenService, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl < 0 {
		ttl = 0
	}
	s := &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		clock:  clock,
	}
	s.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(clock.Now),
	)
	return s, nil
}

// Issue creates a signed token for the account.
func (s *TokenService) Issue(accountID, identity string) (string, error) {
	now := s.clock.Now().UTC()

	claims := Claims{
		AccountID: accountID,
		Identity:  identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			Subject:  accountID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate checks signature, algorithm, issuer and (when set) expiry.
func (s *TokenService) Validate(tokenString string) (ports.Claims, error) {
	if tokenString == "" {
		return ports.Claims{}, ErrEmptyToken
	}

	token, err := s.parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return ports.Claims{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return ports.Claims{}, errors.New("invalid token")
	}

	out := ports.Claims{AccountID: claims.AccountID, Identity: claims.Identity}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

var _ ports.TokenIssuer = (*TokenService)(nil)

// GenerateSecret generates a random secret suitable for JWT signing.
func GenerateSecret() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
