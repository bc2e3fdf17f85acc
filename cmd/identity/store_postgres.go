package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
//   - Email uniqueness is the uq_users_email_norm constraint, not a pre-insert lookup.
//   - Tokens live in a text[] column mutated with array_append/array_remove.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "userauth").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "userauth",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and users table if missing. It is idempotent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const op = "identity.PostgresStore.EnsureSchema"

	users := s.usersTable()
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id            TEXT PRIMARY KEY,
  name          TEXT NOT NULL,
  email         TEXT NOT NULL,
  email_norm    TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  gender        TEXT NULL,
  tokens        TEXT[] NOT NULL DEFAULT '{}',
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);
`, pgx.Identifier{s.schema}.Sanitize(), users)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return persistence(op, err)
	}
	return nil
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return persistence("identity.PostgresStore.Ping", err)
	}
	return nil
}

// NewUserID returns a fresh ULID.
func (s *PostgresStore) NewUserID(now time.Time) (string, error) { return NewULID(now) }

// InsertUser inserts u, assigning its ID (ULID) unless one was pre-allocated.
func (s *PostgresStore) InsertUser(ctx context.Context, u *User) error {
	const op = "identity.PostgresStore.InsertUser"

	if u == nil || strings.TrimSpace(u.EmailNorm) == "" {
		return OpError{Op: op, Kind: ErrValidation, Msg: "missing email"}
	}

	now := u.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	// Postgres stores microsecond precision.
	now = now.UTC().Truncate(time.Microsecond)

	id := u.ID
	if id == "" {
		var err error
		if id, err = s.NewUserID(now); err != nil {
			return persistence(op, err)
		}
	}
	tokens := u.Tokens
	if tokens == nil {
		tokens = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.usersTable()+` (
		     id, name, email, email_norm, password_hash, gender, tokens, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, u.Name, u.Email, u.EmailNorm, u.PasswordHash, u.Gender, tokens, now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return persistence(op, err)
	}

	u.ID = id
	u.CreatedAt = now
	u.Tokens = tokens
	return nil
}

// GetUserByID loads a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.PostgresStore.GetUserByID", "id", id)
}

// GetUserByEmail loads a user by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, emailNorm string) (User, error) {
	return s.getOne(ctx, "identity.PostgresStore.GetUserByEmail", "email_norm", emailNorm)
}

func (s *PostgresStore) getOne(ctx context.Context, op, column, value string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, email_norm, password_hash, gender, tokens, created_at
		   FROM `+s.usersTable()+`
		  WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`,
		value,
	).Scan(&u.ID, &u.Name, &u.Email, &u.EmailNorm, &u.PasswordHash, &u.Gender, &u.Tokens, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, persistence(op, err)
	}
	if u.Tokens == nil {
		u.Tokens = []string{}
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// AppendToken appends token to the user's list.
func (s *PostgresStore) AppendToken(ctx context.Context, userID, token string) error {
	return s.exec(ctx, "identity.PostgresStore.AppendToken",
		`UPDATE `+s.usersTable()+` SET tokens = array_append(tokens, $2) WHERE id = $1`,
		userID, token)
}

// RemoveToken removes token from the user's list; absent tokens are a no-op.
func (s *PostgresStore) RemoveToken(ctx context.Context, userID, token string) error {
	return s.exec(ctx, "identity.PostgresStore.RemoveToken",
		`UPDATE `+s.usersTable()+` SET tokens = array_remove(tokens, $2) WHERE id = $1`,
		userID, token)
}

// ClearTokens empties the user's list.
func (s *PostgresStore) ClearTokens(ctx context.Context, userID string) error {
	return s.exec(ctx, "identity.PostgresStore.ClearTokens",
		`UPDATE `+s.usersTable()+` SET tokens = '{}' WHERE id = $1`,
		userID)
}

// UpdatePassword replaces the hash and the token list in one statement.
func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string, tokens []string) error {
	if tokens == nil {
		tokens = []string{}
	}
	return s.exec(ctx, "identity.PostgresStore.UpdatePassword",
		`UPDATE `+s.usersTable()+` SET password_hash = $2, tokens = $3 WHERE id = $1`,
		userID, passwordHash, tokens)
}

func (s *PostgresStore) exec(ctx context.Context, op, sql string, args ...any) error {
	ct, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return persistence(op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func (s *PostgresStore) usersTable() string {
	return pgIdent(s.schema, "users")
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	case strings.HasSuffix(c, "_pkey"):
		return "id", true
	default:
		return "unique", true
	}
}
