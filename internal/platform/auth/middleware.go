package auth

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type contextKey string

const (
	IdentityKey contextKey = "session_identity"
)

// SessionMiddleware resolves the caller's session once per request and stores
// it on the request context. It never rejects a request: whether a session is
// required is decided by the handler (see PathClassifier).
func SessionMiddleware(resolver *SessionResolver, skipper middleware.Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			id := resolver.Resolve(c.Request())
			if id.Present() {
				c.Set("user_id", id.UserID)
				c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
			}
			return next(c)
		}
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// IdentityFromContext returns the identity stored by SessionMiddleware and
// whether one was present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	return id, ok && id.Present()
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.UserID
}
