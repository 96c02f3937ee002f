package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Claims is the decoded payload of a token.
//
// Email is set on access tokens only; TokenVersion on refresh tokens only.
type Claims struct {
	Subject      string
	Email        string
	TokenVersion *int64
	ID           string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// wireClaims is the JSON layout: sub, email, tv, jti, iat, exp.
type wireClaims struct {
	Email        string `json:"email,omitempty"`
	TokenVersion *int64 `json:"tv,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies one class of token.
type Codec struct {
	secret         []byte
	ttl            time.Duration
	now            func() time.Time
	minSecretBytes int
	parser         *jwt.Parser
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the time source used for iat, exp and verification.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMinSecretBytes makes NewCodec reject shorter secrets.
func WithMinSecretBytes(n int) Option {
	return func(c *Codec) {
		c.minSecretBytes = n
	}
}

// NewCodec builds a Codec for secret and ttl.
func NewCodec(secret string, ttl time.Duration, opts ...Option) (*Codec, error) {
	c := &Codec{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretMissing
	}
	if c.minSecretBytes > 0 && len(secret) < c.minSecretBytes {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	c.secret = []byte(secret)
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// Sign stamps iat, exp and a fresh jti on claims and returns the compact token.
// The returned Claims carry the stamped values at the second precision used on the wire.
func (c *Codec) Sign(claims Claims) (string, Claims, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", Claims{}, errors.New("token: empty subject")
	}

	now := c.now()
	jti, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: jti: %w", err)
	}

	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(c.ttl))

	wc := wireClaims{
		Email:        claims.Email,
		TokenVersion: claims.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        jti.String(),
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wc).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: sign: %w", err)
	}

	claims.ID = wc.ID
	claims.IssuedAt = iat.Time
	claims.ExpiresAt = exp.Time
	return signed, claims, nil
}

// Verify checks signature, algorithm and expiry and returns the claims.
// A token is expired once now >= exp.
func (c *Codec) Verify(raw string) (Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return Claims{}, ErrTokenInvalid
	}

	var wc wireClaims
	_, err := c.parser.ParseWithClaims(raw, &wc, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if strings.TrimSpace(wc.Subject) == "" {
		return Claims{}, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	out := Claims{
		Subject:      wc.Subject,
		Email:        wc.Email,
		TokenVersion: wc.TokenVersion,
		ID:           wc.ID,
	}
	if wc.IssuedAt != nil {
		out.IssuedAt = wc.IssuedAt.Time
	}
	if wc.ExpiresAt != nil {
		out.ExpiresAt = wc.ExpiresAt.Time
	}
	return out, nil
}
