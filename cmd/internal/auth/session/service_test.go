package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/security/password"
	"gatekeeper/cmd/security/token"
)

const (
	testAccessSecret  = "test-access-secret-0123456789abcdef"
	testRefreshSecret = "test-refresh-secret-0123456789abcdef"
	testPassword      = "correct horse"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *identity.MemoryStore
	clk   *clock
	user  identity.PublicUser
}

func testPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AccessSecret = testAccessSecret
	cfg.RefreshSecret = testRefreshSecret
	return cfg
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	clk := &clock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := identity.NewMemoryStore()
	pw := testPasswords()

	reg, err := identity.NewRegistrar(store, pw, identity.WithRegistrarClock(clk.Now))
	require.NoError(t, err)
	user, err := reg.Register(context.Background(), "alice@example.com", testPassword)
	require.NoError(t, err)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(cfg, store, pw, WithClock(clk.Now))
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clk: clk, user: user}
}

func (f *fixture) login(t *testing.T) LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), "alice@example.com", testPassword)
	require.NoError(t, err)
	return res
}

func requireUnauthorized(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err), "expected unauthorized, got %v", err)
	assert.Equal(t, msg, Message(err))
}

func TestNewService_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	store := identity.NewMemoryStore()
	pw := testPasswords()

	cfg := testConfig()
	cfg.RefreshSecret = cfg.AccessSecret
	_, err := NewService(cfg, store, pw)
	assert.ErrorIs(t, err, ErrConfig)

	cfg = testConfig()
	cfg.AccessSecret = ""
	_, err = NewService(cfg, store, pw)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewService(testConfig(), nil, pw)
	assert.Error(t, err)
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res := f.login(t)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.NotEqual(t, res.AccessToken, res.RefreshToken)
	assert.Equal(t, Profile{ID: f.user.ID, Email: "alice@example.com"}, res.User)
	assert.True(t, f.clk.Now().Add(15*time.Minute).Equal(res.AccessExpiresAt))
	assert.True(t, f.clk.Now().Add(7*24*time.Hour).Equal(res.RefreshExpiresAt))

	id, err := f.svc.Authenticate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, id.UserID)
	assert.Equal(t, "alice@example.com", id.Email)
	assert.Equal(t, Profile{ID: f.user.ID, Email: "alice@example.com"}, f.svc.Profile(id))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, "nobody@example.com", testPassword)
	_, errWrong := f.svc.Login(ctx, "alice@example.com", "wrong password")
	_, errCase := f.svc.Login(ctx, "Alice@example.com", testPassword)

	requireUnauthorized(t, errUnknown, MsgInvalidCredentials)
	requireUnauthorized(t, errWrong, MsgInvalidCredentials)
	requireUnauthorized(t, errCase, MsgInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}

func TestRefresh_RotatesAndKeepsVersion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.login(t)
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// Rotation does not consume the presented token by default.
	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Authenticate(second.AccessToken)
	require.NoError(t, err)

	u, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.TokenVersion)
}

func TestRefresh_RejectsInvalidTokens(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.login(t)

	for name, raw := range map[string]string{
		"empty":        "",
		"garbage":      "definitely.not.ajwt",
		"access token": res.AccessToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Refresh(ctx, raw)
			requireUnauthorized(t, err, MsgInvalidRefreshToken)
		})
	}
}

func TestRefresh_ExpiredToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res := f.login(t)
	f.clk.Advance(7*24*time.Hour - time.Second)
	_, err := f.svc.Refresh(context.Background(), res.RefreshToken)
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	_, err = f.svc.Refresh(context.Background(), res.RefreshToken)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)
}

func TestRefresh_UnknownSubject(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	codec, err := token.NewCodec(testRefreshSecret, time.Hour, token.WithClock(f.clk.Now))
	require.NoError(t, err)
	tv := int64(0)
	raw, _, err := codec.Sign(token.Claims{Subject: "01HZZZZZZZZZZZZZZZZZZZZZZZ", TokenVersion: &tv})
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), raw)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)
}

func TestRefresh_RequiresVersionClaim(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	codec, err := token.NewCodec(testRefreshSecret, time.Hour, token.WithClock(f.clk.Now))
	require.NoError(t, err)
	raw, _, err := codec.Sign(token.Claims{Subject: f.user.ID})
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), raw)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)
}

func TestLogout_RevokesAllRefreshTokens(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.login(t)
	b := f.login(t)

	id, err := f.svc.Authenticate(a.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, id))

	_, err = f.svc.Refresh(ctx, a.RefreshToken)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)
	_, err = f.svc.Refresh(ctx, b.RefreshToken)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)

	// Access tokens are not bound to the version and keep working until exp.
	_, err = f.svc.Authenticate(a.AccessToken)
	require.NoError(t, err)

	// A fresh login is bound to the new version.
	c := f.login(t)
	_, err = f.svc.Refresh(ctx, c.RefreshToken)
	require.NoError(t, err)

	u, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), u.TokenVersion)
}

func TestLogout_ConcurrentCallsNeverLoseIncrements(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.Logout(ctx, Identity{UserID: f.user.ID}))
		}()
	}
	wg.Wait()

	u, err := f.store.UserByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), u.TokenVersion)
}

func TestLogout_UnknownUserIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	err := f.svc.Logout(context.Background(), Identity{UserID: "01HZZZZZZZZZZZZZZZZZZZZZZZ"})
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	res := f.login(t)

	_, err := f.svc.Authenticate(res.RefreshToken)
	requireUnauthorized(t, err, MsgUnauthorized)

	_, err = f.svc.Authenticate("")
	requireUnauthorized(t, err, MsgUnauthorized)

	f.clk.Advance(15*time.Minute - time.Second)
	_, err = f.svc.Authenticate(res.AccessToken)
	require.NoError(t, err)

	f.clk.Advance(time.Second)
	_, err = f.svc.Authenticate(res.AccessToken)
	requireUnauthorized(t, err, MsgUnauthorized)
}

func TestStrictRotation_ConsumesPresentedToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.StrictRotation = true })
	ctx := context.Background()

	first := f.login(t)
	second, err := f.svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)

	_, err = f.svc.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestStrictRotation_ConcurrentRefreshHasOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.StrictRotation = true })
	ctx := context.Background()

	res := f.login(t)

	const n = 16
	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Refresh(ctx, res.RefreshToken)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, IsUnauthorized(err), "unexpected error %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

type failingStore struct {
	*identity.MemoryStore
	err error
}

func (s failingStore) UserByEmail(context.Context, string) (identity.User, error) {
	return identity.User{}, s.err
}

func (s failingStore) UserByID(context.Context, string) (identity.User, error) {
	return identity.User{}, s.err
}

func (s failingStore) IncrementTokenVersion(context.Context, string) (int64, error) {
	return 0, s.err
}

func TestInfrastructureErrorsAreNotUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	res := f.login(t)

	down := errors.New("connection refused")
	svc, err := NewService(testConfig(), failingStore{MemoryStore: f.store, err: down}, testPasswords(), WithClock(f.clk.Now))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Login(ctx, "alice@example.com", testPassword)
	assert.ErrorIs(t, err, down)
	assert.False(t, IsUnauthorized(err))

	_, err = svc.Refresh(ctx, res.RefreshToken)
	assert.ErrorIs(t, err, down)
	assert.False(t, IsUnauthorized(err))

	err = svc.Logout(ctx, Identity{UserID: f.user.ID})
	assert.ErrorIs(t, err, down)
}

func TestNonULIDSubjectRejectedBeforeLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	down := errors.New("store must not be reached")
	svc, err := NewService(testConfig(), failingStore{MemoryStore: f.store, err: down}, testPasswords(), WithClock(f.clk.Now))
	require.NoError(t, err)

	refresh, err := token.NewCodec(testRefreshSecret, time.Hour, token.WithClock(f.clk.Now))
	require.NoError(t, err)
	tv := int64(0)
	raw, _, err := refresh.Sign(token.Claims{Subject: "alice", TokenVersion: &tv})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), raw)
	requireUnauthorized(t, err, MsgInvalidRefreshToken)

	access, err := token.NewCodec(testAccessSecret, time.Hour, token.WithClock(f.clk.Now))
	require.NoError(t, err)
	raw, _, err = access.Sign(token.Claims{Subject: "alice", Email: "alice@example.com"})
	require.NoError(t, err)

	_, err = svc.Authenticate(raw)
	requireUnauthorized(t, err, MsgUnauthorized)
}
