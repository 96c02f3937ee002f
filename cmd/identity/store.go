package identity

import (
	"context"
	"time"
)

// User is gatekeeper's canonical security principal.
// PasswordHash never leaves the process; use Public for anything outward.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	TokenVersion int64
	CreatedAt    time.Time
}

// PublicUser is the outward view of a User.
type PublicUser struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Public returns the outward view of u.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Store is the credential persistence boundary.
//
// Contract shared by every backend:
//   - CreateUser fails with ConflictError{Field: "email"} when the email is taken,
//     enforced by a unique index so concurrent registrations cannot both win.
//   - Lookups fail with NotFoundError when no user matches. Email matching is exact.
//   - IncrementTokenVersion is a single atomic store operation; concurrent calls
//     never lose an increment.
//   - CompareAndIncrementTokenVersion increments only when the stored version
//     equals current and fails with ErrNotActive otherwise.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByID(ctx context.Context, id string) (User, error)
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)
	CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
