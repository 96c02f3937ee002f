package authapi

import (
	"context"
	"net/http"
	"strings"

	"gatekeeper/cmd/internal/auth/session"
)

// Authenticator turns a bearer token into an identity. *session.Service satisfies it.
type Authenticator interface {
	Authenticate(accessToken string) (session.Identity, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id session.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity placed by RequireIdentity.
func IdentityFromContext(ctx context.Context) (session.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(session.Identity)
	return id, ok
}

// RequireIdentity rejects requests without a valid access token with 401
// and otherwise passes the verified identity to next via the request context.
func RequireIdentity(auth Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", session.MsgUnauthorized)
			return
		}
		id, err := auth.Authenticate(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", session.Message(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
