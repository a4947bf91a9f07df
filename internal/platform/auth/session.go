package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL matches the 30 day session lifetime of the web frontend.
const DefaultSessionTTL = 30 * 24 * time.Hour

// secureCookiePrefix is added to the cookie name when the session is served
// over HTTPS.
const secureCookiePrefix = "__Secure-"

var ErrNoSigningKey = errors.New("session signing key is not configured")

// Identity is the caller resolved from a session token. The zero value means
// no session.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
}

// Present reports whether the identity carries a user id or an email.
func (i Identity) Present() bool {
	return i.UserID != "" || i.Email != ""
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type SessionConfig struct {
	// SigningKey is the HS256 secret shared by every gateway instance.
	SigningKey []byte
	CookieName string
	Issuer     string
	TTL        time.Duration
}

// SessionResolver verifies session tokens carried by inbound requests.
type SessionResolver struct {
	cfg SessionConfig
	now func() time.Time
}

func NewSessionResolver(cfg SessionConfig) *SessionResolver {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	return &SessionResolver{cfg: cfg, now: time.Now}
}

// CookieName returns the configured session cookie name.
func (r *SessionResolver) CookieName() string {
	return r.cfg.CookieName
}

// TTL returns the lifetime given to issued tokens.
func (r *SessionResolver) TTL() time.Duration {
	return r.cfg.TTL
}

// Resolve extracts and verifies the session token of req. A missing,
// malformed, expired or wrongly signed token is not an error: it resolves to
// the zero Identity.
func (r *SessionResolver) Resolve(req *http.Request) Identity {
	if len(r.cfg.SigningKey) == 0 {
		return Identity{}
	}
	for _, tokenStr := range r.tokensFrom(req) {
		if id, err := r.Verify(tokenStr); err == nil {
			return id
		}
	}
	return Identity{}
}

// Verify parses a raw session token.
func (r *SessionResolver) Verify(tokenStr string) (Identity, error) {
	if len(r.cfg.SigningKey) == 0 {
		return Identity{}, ErrNoSigningKey
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	}
	if r.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.cfg.Issuer))
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return r.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("session token is not valid")
	}

	id := Identity{UserID: claims.ID, Email: claims.Email, Name: claims.Name}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if !id.Present() {
		return Identity{}, fmt.Errorf("session token carries no identity")
	}
	return id, nil
}

// Issue signs a session token for id.
func (r *SessionResolver) Issue(id Identity) (string, time.Time, error) {
	if len(r.cfg.SigningKey) == 0 {
		return "", time.Time{}, ErrNoSigningKey
	}
	now := r.now()
	exp := now.Add(r.cfg.TTL)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    r.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		ID:    id.UserID,
		Email: id.Email,
		Name:  id.Name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, exp, nil
}

// tokensFrom lists the candidate tokens in order: the session cookie (plain
// and __Secure- variants), then a bearer Authorization header.
func (r *SessionResolver) tokensFrom(req *http.Request) []string {
	var out []string
	if r.cfg.CookieName != "" {
		for _, name := range []string{r.cfg.CookieName, secureCookiePrefix + r.cfg.CookieName} {
			if c, err := req.Cookie(name); err == nil && c.Value != "" {
				out = append(out, c.Value)
			}
		}
	}
	if tok := bearerToken(req.Header.Get("Authorization")); tok != "" {
		out = append(out, tok)
	}
	return out
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
