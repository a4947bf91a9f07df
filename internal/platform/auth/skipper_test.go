package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAuthSkipper_InfraPaths(t *testing.T) {
	for _, path := range []string{"/health", "/health/backend", "/auth/login", "/auth/logout"} {
		t.Run(path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath(path)

			if !AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return true for %s", path)
			}
		})
	}
}

func TestAuthSkipper_OtherPaths(t *testing.T) {
	for _, path := range []string{"/api/backend/*", "/auth/session", "/", "/health/extra"} {
		t.Run(path, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath(path)

			if AuthSkipper(c) {
				t.Errorf("expected AuthSkipper to return false for %s", path)
			}
		})
	}
}

func TestPathClassifier_IsPublic(t *testing.T) {
	pc := NewPathClassifier([]string{
		"/api/auth/verify",
		"api/auth/allowed",
		"/api/auth/register",
		"/api/auth/forgot-password",
		"/api/auth/reset-password",
		"  ",
	})

	tests := []struct {
		path string
		want bool
	}{
		{"/api/auth/verify", true},
		{"api/auth/verify", true},
		{"/api/auth/allowed?email=a%40b.com", true},
		{"/api/auth/register", true},
		{"/api/auth/forgot-password", true},
		{"/api/auth/reset-password?token=x", true},
		{"/api/auth/verify/extra", false},
		{"/api/auth/verifyx", false},
		{"/api/catalog/clinics", false},
		{"/api/auth/users", false},
		{"/", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := pc.IsPublic(tt.path); got != tt.want {
				t.Errorf("IsPublic(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	if len(pc.Paths()) != 5 {
		t.Errorf("expected blank entries to be dropped, got %v", pc.Paths())
	}
}

func TestPathClassifier_EmptyListProtectsEverything(t *testing.T) {
	pc := NewPathClassifier(nil)
	if pc.IsPublic("/api/auth/verify") {
		t.Error("expected no public paths with an empty allow-list")
	}
}
