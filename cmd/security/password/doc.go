// Package password hashes and verifies user passwords.
//
// New digests use bcrypt at a fixed cost of 10 unless argon2id is selected
// through GATEKEEPER_PASSWORD_ALGORITHM. Verification reads the scheme from
// the digest, treats it as untrusted input and refuses digests whose cost
// parameters exceed sane bounds.
package password
