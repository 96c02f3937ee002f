package session

import "errors"

// Client-facing Unauthorized messages. They never reveal which check failed.
const (
	MsgInvalidCredentials  = "Invalid credentials"
	MsgInvalidRefreshToken = "Invalid refresh token"
	MsgUnauthorized        = "Unauthorized"
)

var (
	// ErrUnauthorized is the kind shared by every authentication failure.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// UnauthorizedError carries the generic message shown to the caller.
type UnauthorizedError struct {
	Msg string
}

func (e *UnauthorizedError) Error() string { return e.Msg }

func (e *UnauthorizedError) Unwrap() error { return ErrUnauthorized }

func unauthorized(msg string) error {
	return &UnauthorizedError{Msg: msg}
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Message returns the client-facing message of an authentication failure,
// or MsgUnauthorized for anything else.
func Message(err error) string {
	var ue *UnauthorizedError
	if errors.As(err, &ue) && ue.Msg != "" {
		return ue.Msg
	}
	return MsgUnauthorized
}
