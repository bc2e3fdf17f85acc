package session

import (
	"errors"
	"time"

	"userauth/cmd/security/token"
)

// AccessClaims is the identity envelope carried by a verified token.
type AccessClaims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// AccessTokenManager issues and verifies bearer tokens.
type AccessTokenManager interface {
	Issue(userID string, now time.Time) (tok string, claims AccessClaims, err error)
	Verify(tok string, now time.Time) (AccessClaims, error)
}

type jwtManager struct {
	signer *token.Signer
}

// NewJWTManager builds an AccessTokenManager over an HS256 signer.
func NewJWTManager(cfg token.Config) (AccessTokenManager, error) {
	signer, err := token.NewSigner(cfg)
	if err != nil {
		return nil, errors.Join(ErrConfig, err)
	}
	return &jwtManager{signer: signer}, nil
}

func (m *jwtManager) Issue(userID string, now time.Time) (string, AccessClaims, error) {
	raw, c, err := m.signer.Sign(userID, now)
	if err != nil {
		return "", AccessClaims{}, err
	}
	return raw, toAccessClaims(c), nil
}

func (m *jwtManager) Verify(raw string, now time.Time) (AccessClaims, error) {
	c, err := m.signer.Parse(raw, now)
	if err != nil {
		return AccessClaims{}, errors.Join(ErrInvalidToken, err)
	}
	return toAccessClaims(c), nil
}

func toAccessClaims(c token.Claims) AccessClaims {
	out := AccessClaims{
		UserID:  c.User.ID,
		TokenID: c.ID,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time.UTC()
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return out
}
