package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-process dev store used when no database is configured.
// The mutex is the store's own atomicity primitive; it does not make multiple
// gatekeeper instances share state.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, u User) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(u.ID) == "" || u.Email == "" || u.PasswordHash == "" {
		return User{}, invalid(op, "missing id, email or password hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.Email]; taken {
		return User{}, emailTaken(op)
	}
	if _, taken := s.byID[u.ID]; taken {
		return User{}, ConflictError{Op: op, Field: "id"}
	}

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	u.CreatedAt = u.CreatedAt.UTC()
	u.TokenVersion = 0
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u.ID
	return u, nil
}

func (s *MemoryStore) UserByEmail(ctx context.Context, email string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return User{}, userNotFound("identity.UserByEmail")
	}
	return s.byID[id], nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, userNotFound("identity.UserByID")
	}
	return u, nil
}

func (s *MemoryStore) IncrementTokenVersion(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return 0, userNotFound("identity.IncrementTokenVersion")
	}
	u.TokenVersion++
	s.byID[id] = u
	return u.TokenVersion, nil
}

func (s *MemoryStore) CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error) {
	const op = "identity.CompareAndIncrementTokenVersion"

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return 0, userNotFound(op)
	}
	if u.TokenVersion != current {
		return 0, staleVersion(op)
	}
	u.TokenVersion++
	s.byID[id] = u
	return u.TokenVersion, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close(_ context.Context) error { return nil }
