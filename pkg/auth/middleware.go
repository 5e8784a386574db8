package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Credential locations, in lookup order.
const (
	TokenQueryParam  = "token"
	TokenCookieName  = "access_token"
	bearerPrefix     = "bearer "
	anonymousIDShort = 5
)

// TokenFromRequest returns the bearer credential carried by r, or "".
// Browsers cannot set headers on websocket upgrades, so the query
// parameter and cookie are accepted as well.
func TokenFromRequest(r *http.Request) string {
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		if len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(h[len(bearerPrefix):])
		}
	}
	if t := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); t != "" {
		return t
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// Anonymous returns a generated guest principal.
func Anonymous() Principal {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return Principal{
		ID:     "anon-" + id,
		Name:   "User-" + id[:anonymousIDShort],
		Source: SourceAnonymous,
	}
}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// Validator checks the credential. Usually a Chain.
	Validator Validator

	// AllowAnonymous lets requests without any credential through as a
	// generated guest.
	AllowAnonymous bool

	// OnFailure is called for every rejected request.
	OnFailure func(r *http.Request, err error)

	Logger *slog.Logger
}

// Middleware authenticates the request and stores the Principal in its
// context. Rejected requests get 401 and never reach next.
func Middleware(config MiddlewareConfig) func(http.Handler) http.Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	reject := func(w http.ResponseWriter, r *http.Request, err error) {
		if config.OnFailure != nil {
			config.OnFailure(r, err)
		}
		logger.Info("connection rejected",
			"remote_addr", r.RemoteAddr,
			"reason", Reason(err),
			"error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)

			if token == "" {
				if !config.AllowAnonymous {
					reject(w, r, ErrNoCredential)
					return
				}
				p := Anonymous()
				logger.Debug("anonymous principal", "user_id", p.ID)
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
				return
			}

			if config.Validator == nil {
				reject(w, r, ErrUnauthorized)
				return
			}
			p, err := config.Validator.Validate(r.Context(), token)
			if err != nil {
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
