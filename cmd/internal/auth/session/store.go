package session

import (
	"context"

	"userauth/cmd/identity"
)

// Store is the slice of identity.Store the session service needs.
// Token mutations must be atomic per call.
type Store interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
	AppendToken(ctx context.Context, userID, token string) error
	RemoveToken(ctx context.Context, userID, token string) error
	ClearTokens(ctx context.Context, userID string) error
}
