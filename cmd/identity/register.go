package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"gatekeeper/cmd/security/password"
)

// Client-facing registration messages.
const (
	MsgMissingCredentials = "Email and password are required."
	MsgEmailTaken         = "Email already exists."
	MsgInvalidEmail       = "Email must be a valid email address."
)

// PasswordHasher produces a salted one-way digest. password.Config satisfies it.
type PasswordHasher interface {
	Hash(plain string) (string, error)
}

// Registrar creates user accounts.
type Registrar struct {
	store  Store
	hasher PasswordHasher
	now    func() time.Time
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarClock overrides the clock used for createdAt and ULID timestamps.
func WithRegistrarClock(now func() time.Time) RegistrarOption {
	return func(r *Registrar) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistrar builds a Registrar over store and hasher.
func NewRegistrar(store Store, hasher PasswordHasher, opts ...RegistrarOption) (*Registrar, error) {
	if store == nil || hasher == nil {
		return nil, errors.New("identity: registrar needs a store and a hasher")
	}
	r := &Registrar{store: store, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Register creates a user with tokenVersion 0 and returns its public view.
//
// Errors:
//   - OpError{Kind: ErrInvalidInput} for missing or malformed input;
//   - ConflictError{Field: "email"} when the email is already registered, either
//     by the pre-check or by the store's unique index when two calls race.
func (r *Registrar) Register(ctx context.Context, email, plain string) (PublicUser, error) {
	const op = "identity.Register"

	if strings.TrimSpace(email) == "" || plain == "" {
		return PublicUser{}, invalid(op, MsgMissingCredentials)
	}
	if !ValidEmail(email) {
		return PublicUser{}, invalid(op, MsgInvalidEmail)
	}

	_, err := r.store.UserByEmail(ctx, email)
	switch {
	case err == nil:
		return PublicUser{}, emailTaken(op)
	case !IsNotFound(err):
		return PublicUser{}, fmt.Errorf("%s: lookup: %w", op, err)
	}

	digest, err := r.hasher.Hash(plain)
	if err != nil {
		if msg, ok := policyMessage(err); ok {
			return PublicUser{}, invalid(op, msg)
		}
		return PublicUser{}, fmt.Errorf("%s: hash: %w", op, err)
	}

	now := r.now().UTC()
	id, err := NewULID(now)
	if err != nil {
		return PublicUser{}, fmt.Errorf("%s: id: %w", op, err)
	}

	created, err := r.store.CreateUser(ctx, User{
		ID:           id,
		Email:        email,
		PasswordHash: digest,
		TokenVersion: 0,
		CreatedAt:    now,
	})
	if err != nil {
		return PublicUser{}, err
	}
	return created.Public(), nil
}

// ValidEmail accepts a bare addr-spec; display names and surrounding spaces are rejected.
func ValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && addr.Name == ""
}

func policyMessage(err error) (string, bool) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		return "Password is too short.", true
	case errors.Is(err, password.ErrPasswordTooLong):
		return "Password is too long.", true
	case errors.Is(err, password.ErrWeakPassword):
		return "Password is too weak.", true
	default:
		return "", false
	}
}
