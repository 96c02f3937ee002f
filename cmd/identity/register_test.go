package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/security/password"
)

func testHasher() password.Config {
	cfg := password.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

type failingHasher struct{ err error }

func (f failingHasher) Hash(string) (string, error) { return "", f.err }

func TestRegistrar_Register(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hasher := testHasher()
	r, err := NewRegistrar(store, hasher, WithRegistrarClock(func() time.Time { return now }))
	require.NoError(t, err)

	pub, err := r.Register(context.Background(), "frank@example.com", "open-sesame")
	require.NoError(t, err)

	assert.True(t, ids.IsULID(pub.ID), "id %q", pub.ID)
	assert.Equal(t, "frank@example.com", pub.Email)
	assert.True(t, now.Equal(pub.CreatedAt))

	stored, err := store.UserByID(context.Background(), pub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.TokenVersion)
	assert.NotEqual(t, "open-sesame", stored.PasswordHash)

	ok, err := hasher.Verify(stored.PasswordHash, "open-sesame")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistrar_Validation(t *testing.T) {
	t.Parallel()

	r, err := NewRegistrar(NewMemoryStore(), testHasher())
	require.NoError(t, err)

	cases := []struct {
		name     string
		email    string
		password string
		msg      string
	}{
		{name: "empty email", email: "", password: "secret1", msg: MsgMissingCredentials},
		{name: "blank email", email: "   ", password: "secret1", msg: MsgMissingCredentials},
		{name: "empty password", email: "a@example.com", password: "", msg: MsgMissingCredentials},
		{name: "not an email", email: "nope", password: "secret1", msg: MsgInvalidEmail},
		{name: "display name", email: "Ann <ann@example.com>", password: "secret1", msg: MsgInvalidEmail},
		{name: "too short", email: "a@example.com", password: "abc", msg: "Password is too short."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Register(context.Background(), tc.email, tc.password)
			require.Error(t, err)
			assert.True(t, IsInvalidInput(err), "got %v", err)
			assert.Equal(t, tc.msg, Message(err))
		})
	}
}

func TestRegistrar_DuplicateEmail(t *testing.T) {
	t.Parallel()

	r, err := NewRegistrar(NewMemoryStore(), testHasher())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = r.Register(ctx, "dup@example.com", "secret1")
	require.NoError(t, err)

	_, err = r.Register(ctx, "dup@example.com", "secret2")
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	_, err = r.Register(ctx, "Dup@example.com", "secret2")
	assert.NoError(t, err, "emails are matched exactly")
}

func TestRegistrar_ConcurrentSameEmail(t *testing.T) {
	t.Parallel()

	r, err := NewRegistrar(NewMemoryStore(), testHasher())
	require.NoError(t, err)

	const n = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register(context.Background(), "race@example.com", "secret1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestRegistrar_HasherFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("entropy exhausted")
	r, err := NewRegistrar(NewMemoryStore(), failingHasher{err: boom})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), "g@example.com", "secret1")
	require.ErrorIs(t, err, boom)
	assert.False(t, IsInvalidInput(err))
}

func TestNewRegistrar_RequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := NewRegistrar(nil, testHasher())
	assert.Error(t, err)
	_, err = NewRegistrar(NewMemoryStore(), nil)
	assert.Error(t, err)
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"user@example.com":        true,
		"first.last+tag@sub.io":   true,
		"user@localhost":          true,
		"":                        false,
		"plain":                   false,
		"@example.com":            false,
		"user@":                   false,
		" user@example.com":       false,
		"User <user@example.com>": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, ValidEmail(in), "ValidEmail(%q)", in)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err := emailTaken("identity.CreateUser")
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "identity.CreateUser: conflict: email", err.Error())

	err = userNotFound("identity.UserByID")
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "identity.UserByID: not_found: user", err.Error())

	err = staleVersion("identity.CompareAndIncrementTokenVersion")
	assert.True(t, IsNotActive(err))
	assert.Equal(t, "token version changed", Message(err))

	assert.Empty(t, Message(errors.New("plain")))
}
