package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Credentials implements the credential lifecycle on top of a Store:
// registration, credential verification and password change.
// It's safe to use it concurrently from multiple goroutines.
type Credentials struct {
	store  Store
	hasher Hasher

	// dummyHash is verified against when the email is unknown, so both failure
	// paths pay for one hash comparison.
	dummyHash string
}

// NewCredentials constructs Credentials. store and hasher are required.
func NewCredentials(store Store, hasher Hasher) (*Credentials, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if hasher == nil {
		return nil, errors.New("identity: nil hasher")
	}

	c := &Credentials{store: store, hasher: hasher}
	if hash, err := hasher.Hash("dummy-password-for-timing-only"); err == nil {
		c.dummyHash = hash
	}
	return c, nil
}

// Store returns the underlying persistence boundary.
func (c *Credentials) Store() Store { return c.store }

// Hasher returns the password primitive used for hashing and policy checks.
func (c *Credentials) Hasher() Hasher { return c.hasher }

// TokenMinter signs the first bearer token for a user whose ID is allocated
// but not yet persisted.
type TokenMinter func(userID string) (string, error)

// Create validates in, hashes the password once and inserts the user.
// Fails with ValidationError for malformed input and ConflictError when the
// email is already registered.
func (c *Credentials) Create(ctx context.Context, in CreateUserInput) (User, error) {
	return c.create(ctx, in, nil)
}

// CreateWithToken is Create with one active token minted by mint. The user and
// its token are persisted by a single InsertUser, so a failure leaves nothing behind.
func (c *Credentials) CreateWithToken(ctx context.Context, in CreateUserInput, mint TokenMinter) (User, error) {
	if mint == nil {
		return User{}, errors.New("identity: nil token minter")
	}
	return c.create(ctx, in, mint)
}

func (c *Credentials) create(ctx context.Context, in CreateUserInput, mint TokenMinter) (User, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	in = normalizeCreate(in)
	if err := validateCreate(op, in, c.hasher); err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	u := User{
		Name:      in.Name,
		Email:     in.Email,
		EmailNorm: NormalizeEmail(in.Email),
		Gender:    in.Gender,
		Tokens:    []string{},
		CreatedAt: now,
	}
	if err := u.SetPassword(c.hasher, in.Password); err != nil {
		return User{}, err
	}

	if mint != nil {
		id, err := c.store.NewUserID(now)
		if err != nil {
			return User{}, persistence(op, err)
		}
		tok, err := mint(id)
		if err != nil {
			return User{}, err
		}
		u.ID = id
		u.Tokens = []string{tok}
	}

	if err := c.store.InsertUser(ctx, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// FindByCredentials returns the user owning email if password matches its hash.
// Unknown email and wrong password fail with the same ErrAuthentication error.
func (c *Credentials) FindByCredentials(ctx context.Context, email, password string) (User, error) {
	const op = "identity.FindByCredentials"

	emailNorm := NormalizeEmail(email)
	if emailNorm == "" || password == "" {
		c.burnDummyVerify(password)
		return User{}, errAuthentication(op)
	}

	u, err := c.store.GetUserByEmail(ctx, emailNorm)
	if err != nil {
		if IsNotFound(err) {
			c.burnDummyVerify(password)
			return User{}, errAuthentication(op)
		}
		return User{}, err
	}

	ok, err := c.hasher.Verify(u.PasswordHash, password)
	if err != nil || !ok {
		return User{}, errAuthentication(op)
	}
	return u, nil
}

// Get loads a user by ID.
func (c *Credentials) Get(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, NotFoundError{Op: "identity.Get", Resource: "user"}
	}
	return c.store.GetUserByID(ctx, userID)
}

// ChangePassword verifies current, re-hashes next and revokes every active token.
// The returned user has an empty token list.
func (c *Credentials) ChangePassword(ctx context.Context, userID, current, next string) (User, error) {
	return c.changePassword(ctx, userID, current, next, nil)
}

// ChangePasswordWithToken is ChangePassword that leaves exactly one active token,
// minted by mint. The new hash and token list are written together.
func (c *Credentials) ChangePasswordWithToken(ctx context.Context, userID, current, next string, mint TokenMinter) (User, error) {
	if mint == nil {
		return User{}, errors.New("identity: nil token minter")
	}
	return c.changePassword(ctx, userID, current, next, mint)
}

func (c *Credentials) changePassword(ctx context.Context, userID, current, next string, mint TokenMinter) (User, error) {
	const op = "identity.ChangePassword"

	u, err := c.Get(ctx, userID)
	if err != nil {
		return User{}, err
	}

	ok, err := c.hasher.Verify(u.PasswordHash, current)
	if err != nil || !ok {
		return User{}, errAuthentication(op)
	}

	if err := u.SetPassword(c.hasher, next); err != nil {
		return User{}, err
	}
	tokens := []string{}
	if mint != nil {
		tok, err := mint(u.ID)
		if err != nil {
			return User{}, err
		}
		tokens = append(tokens, tok)
	}
	if err := c.store.UpdatePassword(ctx, u.ID, u.PasswordHash, tokens); err != nil {
		return User{}, err
	}
	u.Tokens = tokens
	return u, nil
}

func (c *Credentials) burnDummyVerify(password string) {
	if c.dummyHash != "" {
		_, _ = c.hasher.Verify(c.dummyHash, password)
	}
}
