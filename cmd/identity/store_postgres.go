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
//   - The pgx pool is owned by the caller; Close does not close it.
//   - Schema/table identifiers are quoted with pgx.Identifier.
//   - Email uniqueness is the uq_users_email constraint; token version bumps are
//     single UPDATE ... RETURNING statements.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "gatekeeper").
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
		schema: "gatekeeper",
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

// EnsureSchema creates the schema and users table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	users := pgIdent(s.schema, "users")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  token_version BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_users_token_version CHECK (token_version >= 0),
  CONSTRAINT uq_users_email UNIQUE (email)
);`, pgx.Identifier{s.schema}.Sanitize(), users)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("identity: ensure schema: %w", err)
	}
	return nil
}

// CreateUser inserts u. ID, Email and PasswordHash must be set by the caller.
func (s *PostgresStore) CreateUser(ctx context.Context, u User) (User, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(u.ID) == "" || u.Email == "" || u.PasswordHash == "" {
		return User{}, invalid(op, "missing id, email or password hash")
	}

	now := u.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}

	users := pgIdent(s.schema, "users")

	var created time.Time
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+users+` (id, email, password_hash, token_version, created_at)
		 VALUES ($1, $2, $3, 0, $4)
		 RETURNING created_at`,
		u.ID, u.Email, u.PasswordHash, now.UTC(),
	).Scan(&created)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.TokenVersion = 0
	u.CreatedAt = created.UTC()
	return u, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "identity.UserByEmail", "email", email)
}

func (s *PostgresStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, "identity.UserByID", "id", id)
}

func (s *PostgresStore) getUser(ctx context.Context, op, column, value string) (User, error) {
	users := pgIdent(s.schema, "users")

	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, token_version, created_at
		   FROM `+users+`
		  WHERE `+pgx.Identifier{column}.Sanitize()+` = $1`,
		value,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TokenVersion, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

func (s *PostgresStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	const op = "identity.IncrementTokenVersion"

	users := pgIdent(s.schema, "users")

	var v int64
	err := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET token_version = token_version + 1
		  WHERE id = $1
		RETURNING token_version`,
		id,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, userNotFound(op)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func (s *PostgresStore) CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error) {
	const op = "identity.CompareAndIncrementTokenVersion"

	users := pgIdent(s.schema, "users")

	var v int64
	err := s.pool.QueryRow(ctx,
		`UPDATE `+users+`
		    SET token_version = token_version + 1
		  WHERE id = $1 AND token_version = $2
		RETURNING token_version`,
		id, current,
	).Scan(&v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	// No row updated: either the user is gone or the version moved.
	if _, lookupErr := s.UserByID(ctx, id); lookupErr != nil {
		if IsNotFound(lookupErr) {
			return 0, userNotFound(op)
		}
		return 0, lookupErr
	}
	return 0, staleVersion(op)
}

// Ping checks that a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close is a no-op: the pool belongs to the caller.
func (s *PostgresStore) Close(_ context.Context) error { return nil }

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
	case c == "uq_users_email", strings.Contains(c, "email"):
		return "email", true
	case c == "users_pkey":
		return "id", true
	default:
		return "", true
	}
}
