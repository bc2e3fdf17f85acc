package token

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// UserClaim is the identity envelope embedded in every token.
type UserClaim struct {
	ID string `json:"id"`
}

// Claims is the full token payload.
type Claims struct {
	User UserClaim `json:"user"`
	jwt.RegisteredClaims
}

// Signer issues and verifies tokens with a single HMAC secret.
// It's safe to use it concurrently from multiple goroutines.
type Signer struct {
	secret []byte
	ttl    time.Duration
	leeway time.Duration
}

// NewSigner builds a Signer from cfg. A zero TTL falls back to DefaultTTL.
func NewSigner(cfg Config) (*Signer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Signer{
		secret: []byte(cfg.Secret),
		ttl:    ttl,
		leeway: cfg.Leeway,
	}, nil
}

// TTL returns the lifetime applied to issued tokens.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Sign returns a signed token for userID, valid from now until now+TTL.
func (s *Signer) Sign(userID string, now time.Time) (string, Claims, error) {
	if userID == "" {
		return "", Claims{}, ErrInvalid
	}

	// jti keeps two tokens minted in the same second distinguishable.
	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", Claims{}, err
	}

	claims := Claims{
		User: UserClaim{ID: userID},
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return signed, claims, nil
}

// Parse verifies signature, algorithm and expiry of raw as of now.
// Every failure is reported as ErrInvalid.
func (s *Signer) Parse(raw string, now time.Time) (Claims, error) {
	var claims Claims

	// Build a fresh parser per call; options capture now.
	p := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	tok, err := p.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, errors.Join(ErrInvalid, err)
	}
	if !tok.Valid || claims.User.ID == "" {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}
