package password

import (
	"strings"
)

// Hash validates password against the policy and returns a salted digest
// in the configured algorithm.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	switch c.Algorithm {
	case AlgorithmArgon2id:
		return c.hashArgon2id(password)
	default:
		return c.hashBcrypt(password)
	}
}

// Verify checks whether password matches the given encoded hash.
// Returns (true, nil) for a match, (false, nil) for mismatch,
// and (false, ErrInvalidHash) for malformed/unsupported hashes.
//
// The scheme is taken from the digest itself, so digests written under a
// previous Algorithm setting keep verifying.
func (c Config) Verify(encodedHash, password string) (bool, error) {
	switch {
	case isBcryptHash(encodedHash):
		return c.verifyBcrypt(encodedHash, password)
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return c.verifyArgon2id(encodedHash, password)
	default:
		return false, ErrInvalidHash
	}
}
