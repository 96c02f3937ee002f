package identity

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory returns a fresh, empty store. Cleanup is registered on t.
type storeFactory func(t *testing.T) Store

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) Store {
		st, err := OpenSQLiteStore(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close(context.Background()) })
		return st
	})
}

func TestSQLiteStore_File(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.db")

	st, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	u := mustCreate(t, st, "persist@example.com")
	_, err = st.IncrementTokenVersion(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, st.Close(ctx))

	// Reopening re-runs the migrations, which must be a no-op.
	st, err = OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(ctx) })

	got, err := st.UserByEmail(ctx, "persist@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TokenVersion)

	_, err = OpenSQLiteStore(ctx, "  ")
	assert.Error(t, err)
}

func TestBoltStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, func(t *testing.T) Store {
		st, err := OpenBoltStore(filepath.Join(t.TempDir(), "users.bolt"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close(context.Background()) })
		return st
	})
}

func TestOpenBoltStore_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := OpenBoltStore("")
	assert.Error(t, err)
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Helper()

	t.Run("create and lookup", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()

		created := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		id := mustULID(t)
		u, err := st.CreateUser(ctx, User{
			ID:           id,
			Email:        "ann@example.com",
			PasswordHash: "$2a$10$digest",
			TokenVersion: 42,
			CreatedAt:    created,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(0), u.TokenVersion, "new users always start at version 0")

		byEmail, err := st.UserByEmail(ctx, "ann@example.com")
		require.NoError(t, err)
		byID, err := st.UserByID(ctx, id)
		require.NoError(t, err)

		for _, got := range []User{byEmail, byID} {
			assert.Equal(t, id, got.ID)
			assert.Equal(t, "ann@example.com", got.Email)
			assert.Equal(t, "$2a$10$digest", got.PasswordHash)
			assert.Equal(t, int64(0), got.TokenVersion)
			assert.True(t, created.Equal(got.CreatedAt), "createdAt %v != %v", got.CreatedAt, created)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()

		for _, u := range []User{
			{Email: "x@example.com", PasswordHash: "h"},
			{ID: mustULID(t), PasswordHash: "h"},
			{ID: mustULID(t), Email: "x@example.com"},
		} {
			_, err := st.CreateUser(ctx, u)
			assert.True(t, IsInvalidInput(err), "got %v", err)
		}
	})

	t.Run("email conflict", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()

		mustCreate(t, st, "dup@example.com")
		_, err := st.CreateUser(ctx, User{ID: mustULID(t), Email: "dup@example.com", PasswordHash: "h"})
		require.Error(t, err)
		assert.True(t, IsConflict(err))

		var ce ConflictError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, "email", ce.Field)
	})

	t.Run("email match is exact", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()

		lower := mustCreate(t, st, "case@example.com")
		upper := mustCreate(t, st, "Case@example.com")
		assert.NotEqual(t, lower.ID, upper.ID)

		_, err := st.UserByEmail(ctx, "CASE@example.com")
		assert.True(t, IsNotFound(err))
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()
		ghost := mustULID(t)

		_, err := st.UserByEmail(ctx, "ghost@example.com")
		assert.True(t, IsNotFound(err))
		_, err = st.UserByID(ctx, ghost)
		assert.True(t, IsNotFound(err))
		_, err = st.IncrementTokenVersion(ctx, ghost)
		assert.True(t, IsNotFound(err))
		_, err = st.CompareAndIncrementTokenVersion(ctx, ghost, 0)
		assert.True(t, IsNotFound(err))
	})

	t.Run("increment", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "inc@example.com")

		for want := int64(1); want <= 3; want++ {
			v, err := st.IncrementTokenVersion(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, want, v)
		}
		got, err := st.UserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.TokenVersion)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "race@example.com")

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.IncrementTokenVersion(ctx, u.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		got, err := st.UserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(n), got.TokenVersion)
	})

	t.Run("compare and increment", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "cas@example.com")

		v, err := st.CompareAndIncrementTokenVersion(ctx, u.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		_, err = st.CompareAndIncrementTokenVersion(ctx, u.ID, 0)
		assert.True(t, IsNotActive(err), "got %v", err)

		got, err := st.UserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.TokenVersion)
	})

	t.Run("compare and increment has one winner", func(t *testing.T) {
		t.Parallel()
		st := newStore(t)
		ctx := context.Background()
		u := mustCreate(t, st, "cas-race@example.com")

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.CompareAndIncrementTokenVersion(ctx, u.ID, 0)
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.True(t, IsNotActive(err), "got %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, newStore(t).Ping(context.Background()))
	})
}

func mustULID(t *testing.T) string {
	t.Helper()
	id, err := NewULID(time.Now())
	require.NoError(t, err)
	return id
}

func mustCreate(t *testing.T, st Store, email string) User {
	t.Helper()
	u, err := st.CreateUser(context.Background(), User{
		ID:           mustULID(t),
		Email:        email,
		PasswordHash: "$2a$10$digest",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	})
	require.NoError(t, err)
	return u
}
