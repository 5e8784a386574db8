package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// localClaims is the payload of tokens minted by Issuer.
type localClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// LocalOption configures a LocalValidator or Issuer.
type LocalOption func(*localConfig)

type localConfig struct {
	issuer string
	now    func() time.Time
	leeway time.Duration
}

// WithIssuer sets the iss claim written by Issuer and required by
// LocalValidator.
func WithIssuer(issuer string) LocalOption {
	return func(c *localConfig) {
		c.issuer = issuer
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(c *localConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLeeway allows for clock skew when checking exp and nbf.
func WithLeeway(d time.Duration) LocalOption {
	return func(c *localConfig) {
		c.leeway = d
	}
}

func newLocalConfig(opts []LocalOption) localConfig {
	cfg := localConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// LocalValidator verifies HS256 tokens signed with a shared secret.
type LocalValidator struct {
	secret []byte
	config localConfig
}

// NewLocalValidator creates a validator for tokens signed with secret.
func NewLocalValidator(secret []byte, opts ...LocalOption) *LocalValidator {
	return &LocalValidator{secret: secret, config: newLocalConfig(opts)}
}

// Name implements Validator.
func (v *LocalValidator) Name() string {
	return SourceLocal
}

// Validate implements Validator.
func (v *LocalValidator) Validate(_ context.Context, token string) (Principal, error) {
	if len(v.secret) == 0 {
		return Principal{}, fmt.Errorf("%w: local secret not configured", ErrInvalidToken)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.config.now),
		jwt.WithLeeway(v.config.leeway),
	}
	if v.config.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.config.issuer))
	}

	var claims localClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return Principal{}, mapJWTError(err)
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return Principal{}, fmt.Errorf("%w: id claim is required", ErrInvalidToken)
	}

	name := strings.TrimSpace(claims.Username)
	if name == "" {
		name = userID
	}

	p := Principal{
		ID:     userID,
		Name:   name,
		Email:  claims.Email,
		Source: SourceLocal,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// Issuer mints tokens accepted by LocalValidator.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	config localConfig
}

// NewIssuer creates an Issuer. A ttl of zero issues tokens without exp.
func NewIssuer(secret []byte, ttl time.Duration, opts ...LocalOption) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, config: newLocalConfig(opts)}
}

// Issue signs a token for p.
func (i *Issuer) Issue(p Principal) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("auth: issuer secret not configured")
	}
	if strings.TrimSpace(p.ID) == "" {
		return "", errors.New("auth: principal id is required")
	}

	now := i.config.now()
	claims := localClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   i.config.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		UserID:   p.ID,
		Username: p.Name,
		Email:    p.Email,
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
