// Package identity owns gatekeeper's user records.
//
// It defines the User model, the Store persistence boundary with its
// backends (memory, PostgreSQL, SQLite, MongoDB, bbolt), and the Registrar
// that creates accounts. Every backend enforces email uniqueness and an
// atomic token version increment on its own; callers never lock.
package identity
