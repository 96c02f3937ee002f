package session

import "time"

// Identity is what a verified access token proves about the caller.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Profile is the caller's public identity.
type Profile struct {
	ID    string
	Email string
}

// Profile returns the identity's claims. It does not consult the store, so a
// deleted user's still-valid access token keeps answering.
func (s *Service) Profile(id Identity) Profile {
	return Profile{ID: id.UserID, Email: id.Email}
}
