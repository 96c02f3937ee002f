package identity

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// SQLiteStore implements Store over a single SQLite file (or ":memory:").
// Writes go through one connection, so UPDATE ... RETURNING is atomic.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens path, applies pragmas and runs the embedded migrations.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("identity: empty sqlite path")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("identity: open sqlite: %w", err)
	}

	// One writer; ":memory:" databases also live on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: ping sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("identity: sqlite pragma: %w", err)
		}
	}

	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(sqliteMigrations, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("identity: sqlite migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("identity: sqlite migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("identity: sqlite migrations up: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u User) (User, error) {
	const op = "identity.CreateUser"

	if strings.TrimSpace(u.ID) == "" || u.Email == "" || u.PasswordHash == "" {
		return User{}, invalid(op, "missing id, email or password hash")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.TokenVersion = 0

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, token_version, created_at)
		 VALUES (?, ?, ?, 0, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			if strings.Contains(err.Error(), "users.id") {
				return User{}, ConflictError{Op: op, Field: "id"}
			}
			return User{}, emailTaken(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (s *SQLiteStore) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, "identity.UserByEmail",
		`SELECT id, email, password_hash, token_version, created_at FROM users WHERE email = ?`, email)
}

func (s *SQLiteStore) UserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, "identity.UserByID",
		`SELECT id, email, password_hash, token_version, created_at FROM users WHERE id = ?`, id)
}

func (s *SQLiteStore) getUser(ctx context.Context, op, query, arg string) (User, error) {
	var (
		u       User
		created string
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.TokenVersion, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return User{}, fmt.Errorf("%s: parse created_at: %w", op, err)
	}
	u.CreatedAt = ts.UTC()
	return u, nil
}

func (s *SQLiteStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	const op = "identity.IncrementTokenVersion"

	var v int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET token_version = token_version + 1 WHERE id = ? RETURNING token_version`, id,
	).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, userNotFound(op)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

func (s *SQLiteStore) CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error) {
	const op = "identity.CompareAndIncrementTokenVersion"

	var v int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET token_version = token_version + 1
		  WHERE id = ? AND token_version = ?
		RETURNING token_version`, id, current,
	).Scan(&v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, lookupErr := s.UserByID(ctx, id); lookupErr != nil {
		if IsNotFound(lookupErr) {
			return 0, userNotFound(op)
		}
		return 0, lookupErr
	}
	return 0, staleVersion(op)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close(_ context.Context) error {
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
