package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-0123456789")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// unsignedToken builds a provider-style token. The signature is irrelevant
// to ExternalValidator, so a throwaway key is used.
func unsignedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestLocalRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	issuer := NewIssuer(testSecret, time.Hour, WithIssuer("whiteboard"), WithClock(fixedClock(now)))
	v := NewLocalValidator(testSecret, WithIssuer("whiteboard"), WithClock(fixedClock(now.Add(time.Minute))))

	token, err := issuer.Issue(Principal{ID: "u1", Name: "ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	p, err := v.Validate(context.Background(), token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.ID != "u1" || p.Name != "ann" || p.Email != "ann@example.com" || p.Source != SourceLocal {
		t.Errorf("Principal = %+v", p)
	}
	if !p.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", p.ExpiresAt)
	}
}

func TestLocalRejections(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	good := NewIssuer(testSecret, time.Hour, WithClock(fixedClock(now)))
	v := NewLocalValidator(testSecret, WithClock(fixedClock(now)))

	wrongKey, _ := NewIssuer([]byte("other-secret"), time.Hour, WithClock(fixedClock(now))).Issue(Principal{ID: "u1"})
	expired, _ := NewIssuer(testSecret, time.Minute, WithClock(fixedClock(now.Add(-time.Hour)))).Issue(Principal{ID: "u1"})
	valid, _ := good.Issue(Principal{ID: "u1"})
	noID := unsignedLocal(t, jwt.MapClaims{"username": "x"})
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"id": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"wrong_key", wrongKey, ErrInvalidToken},
		{"expired", expired, ErrTokenExpired},
		{"tampered", valid[:len(valid)-2] + "xx", ErrInvalidToken},
		{"missing_id", noID, ErrInvalidToken},
		{"alg_none", none, ErrInvalidToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tc.token)
			if !errors.Is(err, tc.want) {
				t.Errorf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func unsignedLocal(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestLocalIssuerMismatch(t *testing.T) {
	token, _ := NewIssuer(testSecret, 0, WithIssuer("someone-else")).Issue(Principal{ID: "u1"})
	v := NewLocalValidator(testSecret, WithIssuer("whiteboard"))
	if _, err := v.Validate(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
	}
}

func TestExternalValidator(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	v := &ExternalValidator{Now: fixedClock(now)}

	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantID   string
		wantName string
		wantErr  error
	}{
		{
			name:     "preferred_username",
			claims:   jwt.MapClaims{"sub": "kc-1", "preferred_username": "bob", "email": "bob@example.com"},
			wantID:   "kc-1",
			wantName: "bob",
		},
		{
			name:     "email_fallback",
			claims:   jwt.MapClaims{"sub": "kc-2", "email": "eve@example.com"},
			wantID:   "kc-2",
			wantName: "eve@example.com",
		},
		{
			name:     "default_name",
			claims:   jwt.MapClaims{"sub": "kc-3"},
			wantID:   "kc-3",
			wantName: DefaultExternalName,
		},
		{
			name:    "no_subject",
			claims:  jwt.MapClaims{"preferred_username": "bob"},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "expired",
			claims:  jwt.MapClaims{"sub": "kc-4", "exp": now.Add(-time.Minute).Unix()},
			wantErr: ErrTokenExpired,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := v.Validate(context.Background(), unsignedToken(t, tc.claims))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if p.ID != tc.wantID || p.Name != tc.wantName || p.Source != SourceExternal {
				t.Errorf("Principal = %+v", p)
			}
		})
	}
}

func TestExternalAllowedIssuers(t *testing.T) {
	v := NewExternalValidator("https://idp.example.com/realms/board")
	ok := unsignedToken(t, jwt.MapClaims{"sub": "a", "iss": "https://idp.example.com/realms/board"})
	bad := unsignedToken(t, jwt.MapClaims{"sub": "a", "iss": "https://evil.example.com"})

	if _, err := v.Validate(context.Background(), ok); err != nil {
		t.Errorf("allowed issuer error = %v", err)
	}
	if _, err := v.Validate(context.Background(), bad); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("foreign issuer error = %v, want ErrInvalidToken", err)
	}
}

func TestChainFallsBackInOrder(t *testing.T) {
	chain := Chain{NewLocalValidator(testSecret), NewExternalValidator()}
	ctx := context.Background()

	local, _ := NewIssuer(testSecret, time.Hour).Issue(Principal{ID: "u1", Name: "ann"})
	p, err := chain.Validate(ctx, local)
	if err != nil || p.Source != SourceLocal {
		t.Fatalf("local token = %+v, %v", p, err)
	}

	ext := unsignedToken(t, jwt.MapClaims{"sub": "kc-1", "preferred_username": "bob"})
	p, err = chain.Validate(ctx, ext)
	if err != nil || p.Source != SourceExternal || p.Name != "bob" {
		t.Fatalf("external token = %+v, %v", p, err)
	}

	// A forged local token has no sub claim, so the external fallback
	// rejects it as well.
	forged, _ := NewIssuer([]byte("attacker"), time.Hour).Issue(Principal{ID: "u1"})
	_, err = chain.Validate(ctx, forged)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("forged token error = %v, want ErrUnauthorized", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("error %v does not carry a ValidationError", err)
	}
	if !strings.Contains(err.Error(), "local") || !strings.Contains(err.Error(), "external") {
		t.Errorf("error %q should name both validators", err)
	}
}

func TestChainEmptyToken(t *testing.T) {
	_, err := Chain{NewExternalValidator()}.Validate(context.Background(), "  ")
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("error = %v, want ErrNoCredential", err)
	}
	if Reason(err) != "no_credential" {
		t.Errorf("Reason() = %q", Reason(err))
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"none", func(r *http.Request) {}, ""},
		{"header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, "abc"},
		{"header_case", func(r *http.Request) { r.Header.Set("Authorization", "bearer  abc ") }, "abc"},
		{"basic_ignored", func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, ""},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=q1" }, "q1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookieName, Value: "c1"}) }, "c1"},
		{"header_wins", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer h1")
			r.URL.RawQuery = "token=q1"
		}, "h1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(r)
			if got := TokenFromRequest(r); got != tc.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnonymous(t *testing.T) {
	a, b := Anonymous(), Anonymous()
	if a.ID == b.ID {
		t.Error("anonymous ids collide")
	}
	if !strings.HasPrefix(a.ID, "anon-") || !strings.HasPrefix(a.Name, "User-") || len(a.Name) != len("User-")+5 {
		t.Errorf("Anonymous() = %+v", a)
	}
	if a.Source != SourceAnonymous {
		t.Errorf("Source = %q", a.Source)
	}
}

func TestStatusCode(t *testing.T) {
	if code, ok := StatusCode(ErrNoCredential); !ok || code != http.StatusUnauthorized {
		t.Errorf("StatusCode(ErrNoCredential) = %d, %v", code, ok)
	}
	if _, ok := StatusCode(errors.New("other")); ok {
		t.Error("StatusCode(other) ok = true")
	}
}
