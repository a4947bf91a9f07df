package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrInvalidCredentials is returned by a CredentialVerifier when the backend
// rejects the email/password pair.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialVerifier checks an email/password pair against the user store.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (Identity, error)
}

// LoginHandler materializes sessions: it delegates credential checks to the
// backend and hands out a signed session cookie.
type LoginHandler struct {
	resolver *SessionResolver
	verifier CredentialVerifier
	secure   bool
	logger   zerolog.Logger
}

func NewLoginHandler(resolver *SessionResolver, verifier CredentialVerifier, secureCookies bool, logger zerolog.Logger) *LoginHandler {
	return &LoginHandler{resolver: resolver, verifier: verifier, secure: secureCookies, logger: logger}
}

func (h *LoginHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
	e.POST("/auth/logout", h.Logout)
	e.GET("/auth/session", h.Session)
}

type loginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

func (h *LoginHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Solicitud inválida"})
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"detail": "Email y contraseña son requeridos"})
	}

	id, err := h.verifier.VerifyCredentials(c.Request().Context(), email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Credenciales inválidas"})
		}
		h.logger.Error().Err(err).Str("email", email).Msg("credential check failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"detail": "Error de conexión con el backend"})
	}

	token, exp, err := h.resolver.Issue(id)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue session token")
		return c.JSON(http.StatusInternalServerError, map[string]string{"detail": "No se pudo iniciar sesión"})
	}

	c.SetCookie(h.cookie(token, exp))
	return c.JSON(http.StatusOK, map[string]interface{}{"user": id, "expires": exp.UTC()})
}

func (h *LoginHandler) Logout(c echo.Context) error {
	for _, name := range []string{h.resolver.CookieName(), secureCookiePrefix + h.resolver.CookieName()} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   strings.HasPrefix(name, secureCookiePrefix),
			SameSite: http.SameSiteLaxMode,
		})
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *LoginHandler) Session(c echo.Context) error {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		id = h.resolver.Resolve(c.Request())
	}
	if !id.Present() {
		return c.JSON(http.StatusUnauthorized, map[string]string{"detail": "Sesión requerida"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"user": id})
}

func (h *LoginHandler) cookie(token string, exp time.Time) *http.Cookie {
	name := h.resolver.CookieName()
	if h.secure {
		name = secureCookiePrefix + name
	}
	return &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
