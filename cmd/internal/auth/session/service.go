package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/security/token"
)

const tracerName = "gatekeeper/session"

// UserStore is the subset of identity.Store the service needs.
type UserStore interface {
	UserByEmail(ctx context.Context, email string) (identity.User, error)
	UserByID(ctx context.Context, id string) (identity.User, error)
	IncrementTokenVersion(ctx context.Context, id string) (int64, error)
	CompareAndIncrementTokenVersion(ctx context.Context, id string, current int64) (int64, error)
}

// Passwords hashes and verifies digests. password.Config satisfies it.
type Passwords interface {
	Hash(plain string) (string, error)
	Verify(digest, plain string) (bool, error)
}

// Tokens is a freshly minted access/refresh pair.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Tokens
	User Profile
}

// Service implements the session operations.
type Service struct {
	cfg       Config
	users     UserStore
	passwords Passwords
	access    *token.Codec
	refresh   *token.Codec
	log       *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// dummyDigest is verified against when the email is unknown so that
	// both failure paths cost one hash verification.
	dummyDigest string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source for token issuance and verification.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService validates cfg and builds the two token codecs.
func NewService(cfg Config, users UserStore, passwords Passwords, opts ...Option) (*Service, error) {
	if users == nil || passwords == nil {
		return nil, errors.New("session: service needs a user store and a password hasher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		users:     users,
		passwords: passwords,
		log:       slog.Default(),
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	var err error
	s.access, err = token.NewCodec(cfg.AccessSecret, cfg.AccessTTL.Std(),
		token.WithClock(s.now), token.WithMinSecretBytes(cfg.MinSecretBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: access token: %w", ErrConfig, err)
	}
	s.refresh, err = token.NewCodec(cfg.RefreshSecret, cfg.RefreshTTL.Std(),
		token.WithClock(s.now), token.WithMinSecretBytes(cfg.MinSecretBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: refresh token: %w", ErrConfig, err)
	}

	s.dummyDigest, err = newDummyDigest(passwords)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newDummyDigest(p Passwords) (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: dummy digest: %w", err)
	}
	d, err := p.Hash(hex.EncodeToString(b))
	if err != nil {
		return "", fmt.Errorf("session: dummy digest: %w", err)
	}
	return d, nil
}

// Login verifies email and password and mints a token pair.
// An unknown email and a wrong password fail identically.
func (s *Service) Login(ctx context.Context, email, plain string) (LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "session.Login")
	defer span.End()

	u, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			return LoginResult{}, s.fail(span, "session: login lookup", err)
		}
		_, _ = s.passwords.Verify(s.dummyDigest, plain)
		span.SetAttributes(attribute.String("auth.outcome", "unknown_user"))
		return LoginResult{}, unauthorized(MsgInvalidCredentials)
	}

	ok, err := s.passwords.Verify(u.PasswordHash, plain)
	if err != nil {
		s.log.ErrorContext(ctx, "auth.login.digest_invalid", "user_id", u.ID, "err", err)
	}
	if !ok {
		span.SetAttributes(attribute.String("auth.outcome", "bad_password"))
		return LoginResult{}, unauthorized(MsgInvalidCredentials)
	}

	tokens, err := s.mint(u)
	if err != nil {
		return LoginResult{}, s.fail(span, "session: login mint", err)
	}
	span.SetAttributes(attribute.String("user.id", u.ID))

	return LoginResult{
		Tokens: tokens,
		User:   Profile{ID: u.ID, Email: u.Email},
	}, nil
}

// Refresh exchanges a valid refresh token for a new pair.
//
// The token must verify with the refresh secret, name a ULID subject and
// carry the user's current version. Without strict rotation the presented token
// stays usable until it expires or the user logs out; with strict rotation
// the user's version is bumped with a compare-and-set so the presented token
// (and any concurrent duplicate) is rejected from then on.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	ctx, span := s.tracer.Start(ctx, "session.Refresh")
	defer span.End()

	claims, err := s.refresh.Verify(refreshToken)
	if err != nil || claims.TokenVersion == nil || !ids.IsULID(claims.Subject) {
		return Tokens{}, unauthorized(MsgInvalidRefreshToken)
	}
	span.SetAttributes(attribute.String("user.id", claims.Subject))

	u, err := s.users.UserByID(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return Tokens{}, unauthorized(MsgInvalidRefreshToken)
		}
		return Tokens{}, s.fail(span, "session: refresh lookup", err)
	}
	if u.TokenVersion != *claims.TokenVersion {
		span.SetAttributes(attribute.String("auth.outcome", "revoked"))
		return Tokens{}, unauthorized(MsgInvalidRefreshToken)
	}

	if s.cfg.StrictRotation {
		v, err := s.users.CompareAndIncrementTokenVersion(ctx, u.ID, u.TokenVersion)
		switch {
		case err == nil:
			u.TokenVersion = v
		case identity.IsNotActive(err), identity.IsNotFound(err):
			span.SetAttributes(attribute.String("auth.outcome", "rotation_lost"))
			return Tokens{}, unauthorized(MsgInvalidRefreshToken)
		default:
			return Tokens{}, s.fail(span, "session: refresh rotate", err)
		}
	}

	tokens, err := s.mint(u)
	if err != nil {
		return Tokens{}, s.fail(span, "session: refresh mint", err)
	}
	return tokens, nil
}

// Logout invalidates every refresh token of the identity's user.
// An identity whose user no longer exists is a successful no-op.
func (s *Service) Logout(ctx context.Context, id Identity) error {
	ctx, span := s.tracer.Start(ctx, "session.Logout", trace.WithAttributes(attribute.String("user.id", id.UserID)))
	defer span.End()

	v, err := s.users.IncrementTokenVersion(ctx, id.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.WarnContext(ctx, "auth.logout.unknown_user", "user_id", id.UserID)
			return nil
		}
		return s.fail(span, "session: logout", err)
	}
	span.SetAttributes(attribute.Int64("user.token_version", v))
	return nil
}

// Authenticate verifies an access token and returns the identity it carries.
func (s *Service) Authenticate(accessToken string) (Identity, error) {
	claims, err := s.access.Verify(accessToken)
	if err != nil || !ids.IsULID(claims.Subject) {
		return Identity{}, unauthorized(MsgUnauthorized)
	}
	return Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

func (s *Service) mint(u identity.User) (Tokens, error) {
	at, ac, err := s.access.Sign(token.Claims{Subject: u.ID, Email: u.Email})
	if err != nil {
		return Tokens{}, err
	}
	tv := u.TokenVersion
	rt, rc, err := s.refresh.Sign(token.Claims{Subject: u.ID, TokenVersion: &tv})
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		AccessToken:      at,
		AccessExpiresAt:  ac.ExpiresAt,
		RefreshToken:     rt,
		RefreshExpiresAt: rc.ExpiresAt,
	}, nil
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op)
	return fmt.Errorf("%s: %w", op, err)
}
