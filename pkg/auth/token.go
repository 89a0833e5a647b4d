// Package auth reads the active session token. The token is owned by whatever signed
// the user in; this package only reads it, fresh on every call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"riddle-swap/pkg/swaperr"
)

// DefaultExpirySkew treats tokens about to expire as already expired
const DefaultExpirySkew = 30 * time.Second

// Source yields the current session token
type Source interface {
	Token(ctx context.Context) (string, error)
}

// TokenSource reads a token through a reader function and rejects expired JWTs
// before they reach the backend. Opaque (non-JWT) tokens are passed through.
type TokenSource struct {
	read   func() (string, error)
	origin string
	skew   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a TokenSource
type Option func(*TokenSource)

// WithSkew sets how early a token counts as expired
func WithSkew(d time.Duration) Option {
	return func(s *TokenSource) {
		s.skew = d
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *TokenSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the clock used for expiry checks
func WithClock(now func() time.Time) Option {
	return func(s *TokenSource) {
		s.now = now
	}
}

func newSource(origin string, read func() (string, error), opts ...Option) *TokenSource {
	s := &TokenSource{
		read:   read,
		origin: origin,
		skew:   DefaultExpirySkew,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FromViper reads key from v on every call, so env var and config changes are seen
func FromViper(v *viper.Viper, key string, opts ...Option) *TokenSource {
	return newSource("config key "+key, func() (string, error) {
		return v.GetString(key), nil
	}, opts...)
}

// FromFile reads the token from a file on every call
func FromFile(path string, opts ...Option) *TokenSource {
	return newSource("file "+path, func() (string, error) {
		raw, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return string(raw), nil
	}, opts...)
}

// Static always returns the same token
func Static(token string, opts ...Option) *TokenSource {
	return newSource("static token", func() (string, error) { return token, nil }, opts...)
}

// Token returns the current token. A missing or expired token is SessionExpired.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := s.read()
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", swaperr.Newf(swaperr.CodeSessionExpired, "not signed in (no token in %s)", s.origin)
	}
	if err := s.checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

func (s *TokenSource) checkExpiry(token string) error {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		s.logger.Debug("session token is not a JWT, skipping expiry check")
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !s.now().Before(exp.Add(-s.skew)) {
		s.logger.Info("session token expired", zap.Time("expired_at", exp.Time))
		return swaperr.New(swaperr.CodeSessionExpired, "")
	}
	return nil
}
