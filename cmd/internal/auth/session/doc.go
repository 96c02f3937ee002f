// Package session implements login, refresh rotation, logout and access
// token introspection.
//
// Revocation is per user: every user carries a token version counter, each
// refresh token records the version it was minted under, and logout bumps the
// counter so all outstanding refresh tokens stop verifying. Access tokens are
// not bound to the counter and live until they expire.
//
// Transport concerns (HTTP, bearer extraction) live in package api.
package session
