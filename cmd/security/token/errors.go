package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretMissing  = errors.New("token secret missing")
	ErrSecretTooShort = errors.New("token secret too short")
	ErrInvalidTTL     = errors.New("token ttl must be positive")
	ErrTokenInvalid   = errors.New("token invalid")
)
