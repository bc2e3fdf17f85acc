package session

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"userauth/cmd/identity"
)

// maxTokenLen bounds the input accepted by Verify.
const maxTokenLen = 4096

// Service implements the token lifecycle: issue on login/registration,
// revoke on logout and authenticate on every protected request.
type Service struct {
	tokens AccessTokenManager
	store  Store
}

// Issued is the result of issuing a token.
type Issued struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// NewService constructs a Service with the provided store and token manager.
func NewService(store Store, tokens AccessTokenManager) *Service {
	return &Service{store: store, tokens: tokens}
}

// Issue signs a token for u, records it on the stored user and appends it to u.Tokens.
func (s *Service) Issue(ctx context.Context, now time.Time, u *identity.User) (Issued, error) {
	if u == nil || u.ID == "" {
		return Issued{}, errors.New("session: issue for unsaved user")
	}

	issued, err := s.Sign(u.ID, now)
	if err != nil {
		return Issued{}, err
	}
	if err := s.store.AppendToken(ctx, u.ID, issued.Token); err != nil {
		return Issued{}, err
	}
	u.Tokens = append(u.Tokens, issued.Token)
	return issued, nil
}

// Sign mints a token for userID without recording it anywhere.
func (s *Service) Sign(userID string, now time.Time) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("session: sign for empty user id")
	}
	tok, claims, err := s.tokens.Issue(userID, now)
	if err != nil {
		return Issued{}, err
	}
	return Issued{
		Token:     tok,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Minter adapts Sign for identity's single-write paths (registration and
// password change). The last signed token is stored in out.
func (s *Service) Minter(now time.Time, out *Issued) identity.TokenMinter {
	return func(userID string) (string, error) {
		issued, err := s.Sign(userID, now)
		if err != nil {
			return "", err
		}
		*out = issued
		return issued.Token, nil
	}
}

// Revoke removes tok from u's active list (logout from one client).
// Revoking a token that is not active is a no-op.
func (s *Service) Revoke(ctx context.Context, u *identity.User, tok string) error {
	if err := s.store.RemoveToken(ctx, u.ID, tok); err != nil {
		return err
	}
	u.Tokens = slices.DeleteFunc(u.Tokens, func(t string) bool { return t == tok })
	return nil
}

// RevokeAll clears every active token of u (logout everywhere).
func (s *Service) RevokeAll(ctx context.Context, u *identity.User) error {
	if err := s.store.ClearTokens(ctx, u.ID); err != nil {
		return err
	}
	u.Tokens = []string{}
	return nil
}

// Verify checks signature, algorithm and expiry only. It does not consult the store.
func (s *Service) Verify(tok string, now time.Time) (AccessClaims, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" || len(tok) > maxTokenLen {
		return AccessClaims{}, ErrInvalidToken
	}
	return s.tokens.Verify(tok, now)
}

// Authenticate verifies tok and resolves it to its user. The token must still be
// in the user's active list. Store outages are returned unchanged; every other
// failure is ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, tok string, now time.Time) (identity.User, AccessClaims, error) {
	claims, err := s.Verify(tok, now)
	if err != nil {
		return identity.User{}, AccessClaims{}, err
	}

	// Server-authoritative check to honor revocations.
	u, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.User{}, AccessClaims{}, ErrInvalidToken
		}
		return identity.User{}, AccessClaims{}, err
	}
	if !u.HasToken(strings.TrimSpace(tok)) {
		return identity.User{}, AccessClaims{}, ErrTokenRevoked
	}
	return u, claims, nil
}
