package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/session"
)

// Client-facing messages for boundary validation and success bodies.
const (
	msgRegistered       = "Registration successful"
	msgLoggedOut        = "Logged out"
	msgInvalidJSON      = "invalid request body"
	msgPasswordTooShort = "Password must be at least 6 characters."
	msgRefreshRequired  = "refreshToken must be a string"
	msgInternal         = "internal error"
)

const minPasswordRunes = 6

// Registrar creates accounts. *identity.Registrar satisfies it.
type Registrar interface {
	Register(ctx context.Context, email, password string) (identity.PublicUser, error)
}

// Sessions is the session surface used by the handlers. *session.Service satisfies it.
type Sessions interface {
	Authenticator
	Login(ctx context.Context, email, password string) (session.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (session.Tokens, error)
	Logout(ctx context.Context, id session.Identity) error
	Profile(id session.Identity) session.Profile
}

// Handler wires HTTP auth endpoints to the registration and session services.
type Handler struct {
	log       *slog.Logger
	cfg       Config
	registrar Registrar
	sessions  Sessions
	metrics   *Metrics
	auditRec  AuditRecorder
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics sets the operation counters.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithAuditRecorder persists audit events in addition to logging them.
func WithAuditRecorder(rec AuditRecorder) HandlerOption {
	return func(h *Handler) {
		h.auditRec = rec
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, registrar Registrar, sessions Sessions, opts ...HandlerOption) (*Handler, error) {
	if registrar == nil || sessions == nil {
		return nil, errors.New("authapi: registrar and sessions are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		registrar: registrar,
		sessions:  sessions,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/user/register", h.handleRegister)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.Handle("/auth/logout", allowMethod(http.MethodPost, RequireIdentity(h.sessions, http.HandlerFunc(h.handleLogout))))
	mux.Handle("/auth/profile", allowMethod(http.MethodGet, RequireIdentity(h.sessions, http.HandlerFunc(h.handleProfile))))
}

// allowMethod answers 405 before authentication runs.
func allowMethod(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeMethodNotAllowed(w, method)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "register"

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	email, password, ok := h.readCredentials(w, r, op)
	if !ok {
		return
	}

	user, err := h.registrar.Register(r.Context(), email, password)
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.metrics.observe(op, resultConflict)
			writeError(w, http.StatusConflict, "conflict", identity.MsgEmailTaken)
		case identity.IsInvalidInput(err):
			h.metrics.observe(op, resultInvalid)
			writeError(w, http.StatusBadRequest, "invalid_input", identity.Message(err))
		default:
			h.metrics.observe(op, resultError)
			h.log.ErrorContext(r.Context(), "auth.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", msgInternal)
		}
		return
	}

	h.metrics.observe(op, resultSuccess)
	h.auditRegister(r, user.ID)
	writeJSON(w, http.StatusCreated, registerResponse{
		Message: msgRegistered,
		User: publicUserResponse{
			ID:        user.ID,
			Email:     user.Email,
			CreatedAt: user.CreatedAt,
		},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	const op = "login"

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	email, password, ok := h.readCredentials(w, r, op)
	if !ok {
		return
	}

	res, err := h.sessions.Login(r.Context(), email, password)
	if err != nil {
		if session.IsUnauthorized(err) {
			h.metrics.observe(op, resultUnauthorized)
			h.auditLoginFailed(r, email)
			writeError(w, http.StatusUnauthorized, "unauthorized", session.Message(err))
			return
		}
		h.metrics.observe(op, resultError)
		h.log.ErrorContext(r.Context(), "auth.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", msgInternal)
		return
	}

	h.metrics.observe(op, resultSuccess)
	h.auditLoginSuccess(r, res.User.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		User:         userSummary{ID: res.User.ID, Email: res.User.Email},
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	const op = "refresh"

	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_json", msgInvalidJSON)
		return
	}
	if req.RefreshToken == nil {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_input", msgRefreshRequired)
		return
	}

	tokens, err := h.sessions.Refresh(r.Context(), strings.TrimSpace(*req.RefreshToken))
	if err != nil {
		if session.IsUnauthorized(err) {
			h.metrics.observe(op, resultUnauthorized)
			h.auditRefreshFailed(r)
			writeError(w, http.StatusUnauthorized, "unauthorized", session.Message(err))
			return
		}
		h.metrics.observe(op, resultError)
		h.log.ErrorContext(r.Context(), "auth.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", msgInternal)
		return
	}

	h.metrics.observe(op, resultSuccess)
	h.auditRefreshSuccess(r)
	writeJSON(w, http.StatusOK, tokensResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	const op = "logout"

	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", session.MsgUnauthorized)
		return
	}

	if err := h.sessions.Logout(r.Context(), id); err != nil {
		h.metrics.observe(op, resultError)
		h.log.ErrorContext(r.Context(), "auth.logout.fail", "err", err, "user_id", id.UserID)
		writeError(w, http.StatusInternalServerError, "server_error", msgInternal)
		return
	}

	h.metrics.observe(op, resultSuccess)
	h.auditLogout(r, id.UserID)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", session.MsgUnauthorized)
		return
	}

	p := h.sessions.Profile(id)
	writeJSON(w, http.StatusOK, profileResponse{ID: p.ID, Email: p.Email})
}

// ---- helpers ----

// readCredentials decodes and validates {email, password}. It writes the
// 400 response itself and reports ok=false on failure.
func (h *Handler) readCredentials(w http.ResponseWriter, r *http.Request, op string) (email, password string, ok bool) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_json", msgInvalidJSON)
		return "", "", false
	}

	if req.Email == nil || req.Password == nil || strings.TrimSpace(*req.Email) == "" || *req.Password == "" {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_input", identity.MsgMissingCredentials)
		return "", "", false
	}
	if !identity.ValidEmail(*req.Email) {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_input", identity.MsgInvalidEmail)
		return "", "", false
	}
	if utf8.RuneCountInString(*req.Password) < minPasswordRunes {
		h.metrics.observe(op, resultInvalid)
		writeError(w, http.StatusBadRequest, "invalid_input", msgPasswordTooShort)
		return "", "", false
	}

	return *req.Email, *req.Password, true
}
