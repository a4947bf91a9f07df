package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestResolver() *SessionResolver {
	return NewSessionResolver(SessionConfig{
		SigningKey: testSigningKey,
		CookieName: "cotizador.session-token",
		TTL:        time.Hour,
	})
}

func createTestToken(t *testing.T, claims SessionClaims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() SessionClaims {
	return SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		ID:    "42",
		Email: "ana.principe@doktuz.com",
		Name:  "Ana Príncipe",
	}
}

func TestSessionResolver_IssueAndResolveCookie(t *testing.T) {
	r := newTestResolver()
	token, exp, err := r.Issue(Identity{UserID: "7", Email: "kery.blanco@doktuz.com", Name: "Kery Blanco"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected expiry in the future, got %s", exp)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/backend/api/catalog", nil)
	req.AddCookie(&http.Cookie{Name: "cotizador.session-token", Value: token})

	id := r.Resolve(req)
	if id.UserID != "7" || id.Email != "kery.blanco@doktuz.com" || id.Name != "Kery Blanco" {
		t.Errorf("unexpected identity: %+v", id)
	}
}

func TestSessionResolver_SecureCookieVariant(t *testing.T) {
	r := newTestResolver()
	token := createTestToken(t, validClaims(), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "__Secure-cotizador.session-token", Value: token})

	if id := r.Resolve(req); id.UserID != "42" {
		t.Errorf("expected identity from __Secure- cookie, got %+v", id)
	}
}

func TestSessionResolver_BearerFallback(t *testing.T) {
	r := newTestResolver()
	token := createTestToken(t, validClaims(), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	if id := r.Resolve(req); id.Email != "ana.principe@doktuz.com" {
		t.Errorf("expected identity from bearer header, got %+v", id)
	}
}

func TestSessionResolver_InvalidCookieFallsBackToBearer(t *testing.T) {
	r := newTestResolver()
	token := createTestToken(t, validClaims(), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "cotizador.session-token", Value: createTestToken(t, validClaims(), []byte("other-key"))})
	req.Header.Set("Authorization", "Bearer "+token)

	if id := r.Resolve(req); id.UserID != "42" {
		t.Errorf("expected identity from bearer header behind a bad cookie, got %+v", id)
	}
}

func TestSessionResolver_AbsentOutcomes(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	empty := validClaims()
	empty.ID, empty.Email = "", ""

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"garbage", "not-a-jwt"},
		{"wrong key", createTestToken(t, validClaims(), []byte("some-other-secret-key"))},
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"no expiry", createTestToken(t, noExpiry, testSigningKey)},
		{"no identity", createTestToken(t, empty, testSigningKey)},
	}

	r := newTestResolver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.AddCookie(&http.Cookie{Name: "cotizador.session-token", Value: tt.token})
			}
			if id := r.Resolve(req); id.Present() {
				t.Errorf("expected absent identity, got %+v", id)
			}
		})
	}
}

func TestSessionResolver_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims())
	tokenStr, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, err := newTestResolver().Verify(tokenStr); err == nil {
		t.Error("expected unsigned token to be rejected")
	}
}

func TestSessionResolver_Issuer(t *testing.T) {
	r := NewSessionResolver(SessionConfig{SigningKey: testSigningKey, CookieName: "s", Issuer: "cotizador"})

	claims := validClaims()
	claims.Issuer = "someone-else"
	if _, err := r.Verify(createTestToken(t, claims, testSigningKey)); err == nil {
		t.Error("expected foreign issuer to be rejected")
	}

	claims.Issuer = "cotizador"
	if _, err := r.Verify(createTestToken(t, claims, testSigningKey)); err != nil {
		t.Errorf("expected matching issuer to verify, got %v", err)
	}
}

func TestSessionResolver_SubjectFallback(t *testing.T) {
	claims := validClaims()
	claims.ID = ""
	claims.Subject = "99"
	id, err := newTestResolver().Verify(createTestToken(t, claims, testSigningKey))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "99" {
		t.Errorf("expected subject to fill user id, got %q", id.UserID)
	}
}

func TestSessionResolver_NoSigningKey(t *testing.T) {
	r := NewSessionResolver(SessionConfig{CookieName: "s"})
	if _, _, err := r.Issue(Identity{UserID: "1"}); err != ErrNoSigningKey {
		t.Errorf("expected ErrNoSigningKey, got %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(), testSigningKey))
	if r.Resolve(req).Present() {
		t.Error("expected absent identity without a signing key")
	}
	if r.TTL() != DefaultSessionTTL {
		t.Errorf("expected default ttl, got %s", r.TTL())
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Token abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}
