package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const strongPassword = "this is a strong password 123!"

func fastBcrypt() Config {
	cfg := DefaultConfig()
	cfg.BcryptCost = bcrypt.MinCost
	return cfg
}

func fastArgon2id() Config {
	cfg := DefaultConfig()
	cfg.Algorithm = AlgorithmArgon2id
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify_Bcrypt(t *testing.T) {
	cfg := fastBcrypt()

	h, err := cfg.Hash(strongPassword)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "$2a$"), "digest %q", h)
	assert.NotContains(t, h, strongPassword)

	ok, err := cfg.Verify(h, strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.Verify(h, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_DefaultCostIsTen(t *testing.T) {
	cfg := DefaultConfig()

	h, err := cfg.Hash(strongPassword)
	require.NoError(t, err)

	cost, err := bcrypt.Cost([]byte(h))
	require.NoError(t, err)
	assert.Equal(t, BcryptCost, cost)
}

func TestHash_Salted(t *testing.T) {
	cfg := fastBcrypt()

	a, err := cfg.Hash(strongPassword)
	require.NoError(t, err)
	b, err := cfg.Hash(strongPassword)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashAndVerify_Argon2id(t *testing.T) {
	cfg := fastArgon2id()

	h, err := cfg.Hash(strongPassword)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$"), "digest %q", h)

	ok, err := cfg.Verify(h, strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cfg.Verify(h, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_DispatchesOnDigestScheme(t *testing.T) {
	argon := fastArgon2id()
	legacy, err := argon.Hash(strongPassword)
	require.NoError(t, err)

	// A bcrypt-configured verifier still accepts argon2id digests and vice versa.
	cfg := fastBcrypt()
	cfg.Params = argon.Params
	ok, err := cfg.Verify(legacy, strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	bc, err := cfg.Hash(strongPassword)
	require.NoError(t, err)
	ok, err = argon.Verify(bc, strongPassword)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := fastArgon2id()

	for _, digest := range []string{
		"",
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$a2V5a2V5a2V5a2V5a2V5a2V5",
		"$2a$04$short",
	} {
		ok, err := cfg.Verify(digest, "whatever")
		assert.ErrorIs(t, err, ErrInvalidHash, "digest %q", digest)
		assert.False(t, ok)
	}
}

func TestVerify_RejectsExpensiveArgon2id(t *testing.T) {
	cfg := fastArgon2id()

	// m is far above twice the configured memory.
	digest := "$argon2id$v=19$m=1048576,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2V5a2U"
	ok, err := cfg.Verify(digest, strongPassword)
	assert.ErrorIs(t, err, ErrInvalidHash)
	assert.False(t, ok)
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	assert.ErrorIs(t, cfg.Validate("short"), ErrPasswordTooShort)
	assert.ErrorIs(t, cfg.Validate("this password is definitely too long"), ErrPasswordTooLong)
	assert.NoError(t, cfg.Validate("goodpassw0rd!"))
}

func TestValidate_DefaultPolicy(t *testing.T) {
	cfg := DefaultConfig()

	assert.ErrorIs(t, cfg.Validate("12345"), ErrPasswordTooShort)
	assert.NoError(t, cfg.Validate("123456"))

	// Minimum counts characters, maximum counts bytes.
	assert.NoError(t, cfg.Validate("éééééé"))
	assert.ErrorIs(t, cfg.Validate(strings.Repeat("é", 40)), ErrPasswordTooLong)
	assert.NoError(t, cfg.Validate(strings.Repeat("a", 72)))
	assert.ErrorIs(t, cfg.Validate(strings.Repeat("a", 73)), ErrPasswordTooLong)
}

func TestHash_RejectsPolicyViolation(t *testing.T) {
	cfg := fastBcrypt()

	_, err := cfg.Hash("abc")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 8

	assert.ErrorIs(t, cfg.Validate("password"), ErrWeakPassword)
	assert.ErrorIs(t, cfg.Validate("11111111"), ErrWeakPassword)
	assert.NoError(t, cfg.Validate("a-very-ok-pass"))
}
