package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// infraPaths lists gateway endpoints that never require a session, either
// because they are health checks or because they establish the session.
var infraPaths = map[string]bool{
	"/health":         true,
	"/health/backend": true,
	"/auth/login":     true,
	"/auth/logout":    true,
}

// AuthSkipper returns true for requests whose route should skip session
// handling in middleware. Proxied backend routes are never skipped: their
// policy is decided per path by the PathClassifier.
func AuthSkipper(c echo.Context) bool {
	return IsInfraPath(c.Path())
}

// IsInfraPath reports whether path is a gateway infrastructure endpoint.
func IsInfraPath(path string) bool {
	return infraPaths[strings.TrimRight(path, "/")]
}

// PathClassifier decides whether a backend path can be reached without a
// session.
type PathClassifier struct {
	public []string
}

// NewPathClassifier builds a classifier over the given allow-list. Entries are
// normalized to start with "/" and blank entries are dropped.
func NewPathClassifier(paths []string) *PathClassifier {
	pc := &PathClassifier{}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		pc.public = append(pc.public, normalizePath(p))
	}
	return pc
}

// IsPublic reports whether path equals a listed path or is a listed path
// followed by a query string. Prefix matches on further segments do not
// count: "/api/auth/verify/x" is protected.
func (pc *PathClassifier) IsPublic(path string) bool {
	path = normalizePath(path)
	for _, p := range pc.public {
		if path == p || strings.HasPrefix(path, p+"?") {
			return true
		}
	}
	return false
}

// Paths returns a copy of the allow-list.
func (pc *PathClassifier) Paths() []string {
	return append([]string(nil), pc.public...)
}

func normalizePath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
