package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// testStoreContract exercises the Store contract against any implementation.
// newStore must return an empty store.
func testStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("InsertAndLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		g := "male"
		u := &User{
			Name:         "Ann",
			Email:        "Ann@Example.com",
			EmailNorm:    "ann@example.com",
			PasswordHash: "$2a$04$placeholderplaceholderplaceholderplaceholderplace",
			Gender:       &g,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if u.ID == "" {
			t.Fatalf("expected id to be assigned")
		}

		byID, err := s.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		byEmail, err := s.GetUserByEmail(ctx, "ann@example.com")
		if err != nil {
			t.Fatalf("get by email: %v", err)
		}
		for _, got := range []User{byID, byEmail} {
			if got.ID != u.ID || got.Email != u.Email || got.PasswordHash != u.PasswordHash {
				t.Fatalf("loaded user mismatch: %+v", got)
			}
			if got.Gender == nil || *got.Gender != "male" {
				t.Fatalf("gender: got %v", got.Gender)
			}
			if got.Tokens == nil || len(got.Tokens) != 0 {
				t.Fatalf("tokens: got %#v", got.Tokens)
			}
		}
	})

	t.Run("DuplicateEmailConflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		mustInsert(t, s, "dup@example.com")
		err := s.InsertUser(ctx, &User{Name: "B", Email: "dup@example.com", EmailNorm: "dup@example.com", PasswordHash: "x"})
		if !IsConflict(err) {
			t.Fatalf("expected conflict, got %v", err)
		}
	})

	t.Run("MissingUser", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)
		missing, err := s.NewUserID(time.Now())
		if err != nil {
			t.Fatalf("new id: %v", err)
		}

		if _, err := s.GetUserByID(ctx, missing); !IsNotFound(err) {
			t.Fatalf("get by id: expected not found, got %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "ghost@example.com"); !IsNotFound(err) {
			t.Fatalf("get by email: expected not found, got %v", err)
		}
		if err := s.AppendToken(ctx, missing, "tok"); !IsNotFound(err) {
			t.Fatalf("append: expected not found, got %v", err)
		}
		if err := s.UpdatePassword(ctx, missing, "x", nil); !IsNotFound(err) {
			t.Fatalf("update password: expected not found, got %v", err)
		}
	})

	t.Run("TokenLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)
		u := mustInsert(t, s, "tok@example.com")

		for _, tok := range []string{"a", "b", "c"} {
			if err := s.AppendToken(ctx, u.ID, tok); err != nil {
				t.Fatalf("append %s: %v", tok, err)
			}
		}
		assertTokens(t, s, u.ID, "a", "b", "c")

		if err := s.RemoveToken(ctx, u.ID, "b"); err != nil {
			t.Fatalf("remove: %v", err)
		}
		assertTokens(t, s, u.ID, "a", "c")

		// Removing an absent token is a no-op.
		if err := s.RemoveToken(ctx, u.ID, "b"); err != nil {
			t.Fatalf("remove twice: %v", err)
		}
		assertTokens(t, s, u.ID, "a", "c")

		if err := s.ClearTokens(ctx, u.ID); err != nil {
			t.Fatalf("clear: %v", err)
		}
		assertTokens(t, s, u.ID)
	})

	t.Run("ConcurrentAppendKeepsEveryToken", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)
		u := mustInsert(t, s, "race@example.com")

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.AppendToken(ctx, u.ID, fmt.Sprintf("tok-%02d", i))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		got, err := s.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(got.Tokens) != n {
			t.Fatalf("tokens: got %d want %d (%v)", len(got.Tokens), n, got.Tokens)
		}
		for i := range n {
			if tok := fmt.Sprintf("tok-%02d", i); !slices.Contains(got.Tokens, tok) {
				t.Fatalf("lost %s: %v", tok, got.Tokens)
			}
		}
	})

	t.Run("InsertWithPreallocatedIDAndToken", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)

		now := time.Now().UTC()
		id, err := s.NewUserID(now)
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		u := &User{
			ID:           id,
			Name:         "Pre",
			Email:        "pre@example.com",
			EmailNorm:    "pre@example.com",
			PasswordHash: "hash",
			Tokens:       []string{"first"},
			CreatedAt:    now,
		}
		if err := s.InsertUser(ctx, u); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if u.ID != id {
			t.Fatalf("id replaced: got %q want %q", u.ID, id)
		}
		assertTokens(t, s, id, "first")

		// The email is free but the id is taken.
		dup := &User{ID: id, Name: "Dup", Email: "other@example.com", EmailNorm: "other@example.com", PasswordHash: "x"}
		if err := s.InsertUser(ctx, dup); !IsConflict(err) {
			t.Fatalf("reused id: expected conflict, got %v", err)
		}
	})

	t.Run("UpdatePasswordReplacesTokens", func(t *testing.T) {
		s := newStore(t)
		ctx := testCtx(t)
		u := mustInsert(t, s, "pw@example.com")

		for _, tok := range []string{"a", "b"} {
			if err := s.AppendToken(ctx, u.ID, tok); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		if err := s.UpdatePassword(ctx, u.ID, "new-hash", []string{"fresh"}); err != nil {
			t.Fatalf("update password: %v", err)
		}

		got, err := s.GetUserByID(ctx, u.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.PasswordHash != "new-hash" {
			t.Fatalf("hash: got %q", got.PasswordHash)
		}
		assertTokens(t, s, u.ID, "fresh")

		if err := s.UpdatePassword(ctx, u.ID, "newer-hash", nil); err != nil {
			t.Fatalf("update password without tokens: %v", err)
		}
		assertTokens(t, s, u.ID)
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(testCtx(t)); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func mustInsert(t *testing.T, s Store, email string) User {
	t.Helper()

	u := &User{
		Name:         "User",
		Email:        email,
		EmailNorm:    NormalizeEmail(email),
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.InsertUser(testCtx(t), u); err != nil {
		t.Fatalf("insert %s: %v", email, err)
	}
	return *u
}

func assertTokens(t *testing.T, s Store, userID string, want ...string) {
	t.Helper()

	u, err := s.GetUserByID(testCtx(t), userID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(u.Tokens, want) {
		t.Fatalf("tokens: got %v want %v", u.Tokens, want)
	}
}

func mustNewULIDLike(t *testing.T) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}

// shouldSkipIntegration reports whether err looks like an unreachable database.
// In CI every failure is fatal.
func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "server selection error") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
