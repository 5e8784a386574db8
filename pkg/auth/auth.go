package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Principal sources.
const (
	SourceLocal     = "local"
	SourceExternal  = "external"
	SourceAnonymous = "anonymous"
)

var (
	// ErrUnauthorized is returned when a connection attempt carries no usable
	// credential.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrNoCredential is returned when the request carries no token.
	ErrNoCredential = errors.New("auth: no credential")

	// ErrInvalidToken is returned when a token is malformed, badly signed or
	// missing required claims.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired is returned for tokens past their exp claim.
	ErrTokenExpired = errors.New("auth: token expired")
)

// Principal is the identity attached to a connection.
type Principal struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source"`

	// ExpiresAt is the credential expiry, zero when unknown.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Validator turns a raw token into a Principal.
type Validator interface {
	Name() string
	Validate(ctx context.Context, token string) (Principal, error)
}

// ValidationError records why one validator rejected a token.
type ValidationError struct {
	Validator string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Validator, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Chain tries each validator in order and returns the first success.
type Chain []Validator

// Name implements Validator.
func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, v := range c {
		names = append(names, v.Name())
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Validate implements Validator. When every validator rejects the token the
// error wraps ErrUnauthorized together with each rejection.
func (c Chain) Validate(ctx context.Context, token string) (Principal, error) {
	if strings.TrimSpace(token) == "" {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, ErrNoCredential)
	}

	failures := make([]error, 0, len(c))
	for _, v := range c {
		p, err := v.Validate(ctx, token)
		if err == nil {
			return p, nil
		}
		failures = append(failures, &ValidationError{Validator: v.Name(), Err: err})
	}
	if len(failures) == 0 {
		return Principal{}, fmt.Errorf("%w: no validators configured", ErrUnauthorized)
	}
	return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, errors.Join(failures...))
}

// Reason maps an authentication error to a short label for metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "no_credential"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "rejected"
	}
}

// StatusCode maps authentication errors to HTTP status codes.
func StatusCode(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCredential) ||
		errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) {
		return http.StatusUnauthorized, true
	}
	return 0, false
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the Principal stored by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
