package identity

import (
	"context"
	"time"
)

// CreateUserInput describes a registration request.
type CreateUserInput struct {
	Name     string  `validate:"required,max=128"`
	Email    string  `validate:"required,email,max=254"`
	Password string  `validate:"required"`
	Gender   *string `validate:"omitempty,max=32"`
	Now      time.Time
}

// Store is the user persistence boundary.
//
// Contract:
//   - NewUserID allocates an ID in the store's format without writing anything.
//   - InsertUser persists u together with u.Tokens in one write. It keeps u.ID when
//     set (from NewUserID) and assigns one otherwise. It fails with
//     ConflictError{Field: "email"} when EmailNorm is taken; uniqueness is enforced
//     by the store itself.
//   - Lookups fail with NotFoundError when the user does not exist.
//   - Token mutations are atomic per call; RemoveToken is a no-op when the token is absent.
//   - UpdatePassword replaces the hash and the whole token list in one write.
//   - Driver failures are reported as ErrPersistence.
type Store interface {
	NewUserID(now time.Time) (string, error)
	InsertUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, emailNorm string) (User, error)

	AppendToken(ctx context.Context, userID, token string) error
	RemoveToken(ctx context.Context, userID, token string) error
	ClearTokens(ctx context.Context, userID string) error

	UpdatePassword(ctx context.Context, userID, passwordHash string, tokens []string) error

	Ping(ctx context.Context) error
}
