package identity

import (
	"errors"
	"slices"
	"time"

	"userauth/cmd/security/password"
)

// User is the persisted account record.
// PasswordHash never holds plaintext; the only way to set it is SetPassword.
type User struct {
	ID        string
	Name      string
	Email     string
	EmailNorm string

	PasswordHash string

	Gender *string

	// Tokens lists the active bearer tokens, oldest first.
	Tokens []string

	CreatedAt time.Time
}

// Hasher is the password primitive used by the credential store.
// password.Config is the production implementation.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(encodedHash, plaintext string) (bool, error)
	Validate(plaintext string) error
}

// SetPassword hashes plaintext and stores the hash on u.
// It always hashes; callers invoke it only from registration and password change.
func (u *User) SetPassword(h Hasher, plaintext string) error {
	const op = "identity.SetPassword"

	if h == nil {
		return OpError{Op: op, Kind: ErrValidation, Msg: "nil hasher"}
	}
	hash, err := h.Hash(plaintext)
	if err != nil {
		if msg, ok := passwordPolicyMessage(h, err); ok {
			return ValidationError{Op: op, Fields: []FieldError{{Field: "password", Msg: msg}}}
		}
		return err
	}
	u.PasswordHash = hash
	return nil
}

// HasToken reports whether tok is one of u's active tokens.
func (u User) HasToken(tok string) bool {
	return tok != "" && slices.Contains(u.Tokens, tok)
}

// Clone returns a copy that shares no mutable state with u.
func (u User) Clone() User {
	out := u
	out.Tokens = slices.Clone(u.Tokens)
	if u.Gender != nil {
		g := *u.Gender
		out.Gender = &g
	}
	return out
}

// removeToken drops the entry equal to tok, preserving order. Issued tokens carry
// a unique jti, so the list never holds the same token twice and at most one
// entry matches.
func removeToken(tokens []string, tok string) []string {
	return slices.DeleteFunc(tokens, func(t string) bool { return t == tok })
}

type minLengther interface {
	MinLength() int
}

func passwordPolicyMessage(h Hasher, err error) (string, bool) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		n := 6
		if m, ok := h.(minLengther); ok {
			n = m.MinLength()
		}
		return passwordTooShortMessage(n), true
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password is too long", true
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak", true
	default:
		return "", false
	}
}
