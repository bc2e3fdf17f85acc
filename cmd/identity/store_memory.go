package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test Store kept entirely in process memory.
// Email uniqueness is enforced under the same lock as the insert.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string // email_norm -> id
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// NewUserID returns a fresh ULID.
func (s *MemoryStore) NewUserID(now time.Time) (string, error) { return NewULID(now) }

// InsertUser stores a copy of u, assigning its ID unless one was pre-allocated.
func (s *MemoryStore) InsertUser(ctx context.Context, u *User) error {
	const op = "identity.MemoryStore.InsertUser"

	if u == nil || strings.TrimSpace(u.EmailNorm) == "" {
		return OpError{Op: op, Kind: ErrValidation, Msg: "missing email"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := u.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id := u.ID
	if id == "" {
		var err error
		if id, err = s.NewUserID(now); err != nil {
			return persistence(op, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.EmailNorm]; taken {
		return ConflictError{Op: op, Field: "email"}
	}
	if _, taken := s.byID[id]; taken {
		return ConflictError{Op: op, Field: "id"}
	}

	u.ID = id
	u.CreatedAt = now
	if u.Tokens == nil {
		u.Tokens = []string{}
	}
	stored := u.Clone()
	s.byID[id] = &stored
	s.byEmail[u.EmailNorm] = id
	return nil
}

// GetUserByID returns a copy of the user with id.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.MemoryStore.GetUserByID", Resource: "user"}
	}
	return u.Clone(), nil
}

// GetUserByEmail returns a copy of the user registered with emailNorm.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, emailNorm string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailNorm]
	if !ok {
		return User{}, NotFoundError{Op: "identity.MemoryStore.GetUserByEmail", Resource: "user"}
	}
	return s.byID[id].Clone(), nil
}

// AppendToken appends token to the user's active list.
func (s *MemoryStore) AppendToken(ctx context.Context, userID, token string) error {
	return s.mutate(ctx, "identity.MemoryStore.AppendToken", userID, func(u *User) {
		u.Tokens = append(u.Tokens, token)
	})
}

// RemoveToken drops token from the user's active list; absent tokens are a no-op.
func (s *MemoryStore) RemoveToken(ctx context.Context, userID, token string) error {
	return s.mutate(ctx, "identity.MemoryStore.RemoveToken", userID, func(u *User) {
		u.Tokens = removeToken(u.Tokens, token)
	})
}

// ClearTokens empties the user's active list.
func (s *MemoryStore) ClearTokens(ctx context.Context, userID string) error {
	return s.mutate(ctx, "identity.MemoryStore.ClearTokens", userID, func(u *User) {
		u.Tokens = []string{}
	})
}

// UpdatePassword replaces the hash and the token list.
func (s *MemoryStore) UpdatePassword(ctx context.Context, userID, passwordHash string, tokens []string) error {
	return s.mutate(ctx, "identity.MemoryStore.UpdatePassword", userID, func(u *User) {
		u.PasswordHash = passwordHash
		u.Tokens = append([]string{}, tokens...)
	})
}

func (s *MemoryStore) mutate(ctx context.Context, op, userID string, fn func(*User)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	fn(u)
	return nil
}
