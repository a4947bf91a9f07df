package backend

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/cotizador/cotizador/internal/platform/auth"
)

// User is an account as the backend returns it.
type User struct {
	ID    int64   `json:"id"`
	Email string  `json:"email"`
	Name  *string `json:"name"`
}

// Identity converts u into a session identity.
func (u User) Identity() auth.Identity {
	id := auth.Identity{UserID: strconv.FormatInt(u.ID, 10), Email: u.Email}
	if u.Name != nil {
		id.Name = *u.Name
	}
	return id
}

type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type RegisteredUser struct {
	User
	EmailSent bool `json:"email_sent"`
}

// VerifyCredentials checks an email/password pair. A 401 from the backend
// becomes auth.ErrInvalidCredentials.
func (c *Client) VerifyCredentials(ctx context.Context, email, password string) (auth.Identity, error) {
	body := map[string]string{"email": strings.TrimSpace(email), "password": password}
	var u User
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/verify", nil, body, &u); err != nil {
		if IsStatus(err, http.StatusUnauthorized) {
			return auth.Identity{}, auth.ErrInvalidCredentials
		}
		return auth.Identity{}, fmt.Errorf("verify credentials: %w", err)
	}
	return u.Identity(), nil
}

func (c *Client) Register(ctx context.Context, r Registration) (RegisteredUser, error) {
	var out RegisteredUser
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/register", nil, r, &out)
	return out, err
}

// ForgotPassword starts a password reset and returns the backend message.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	return c.message(ctx, "/api/auth/forgot-password", map[string]string{"email": strings.TrimSpace(email)})
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	return c.message(ctx, "/api/auth/reset-password", map[string]string{"token": token, "new_password": newPassword})
}

func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/users", nil, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []User{}
	}
	return out, nil
}

// AddUser creates an account without a password.
func (c *Client) AddUser(ctx context.Context, email, name string) (User, error) {
	return c.postUser(ctx, "/api/auth/users", email, name)
}

// InviteUser creates an account with a random password mailed to the user.
func (c *Client) InviteUser(ctx context.Context, email, name string) (User, error) {
	return c.postUser(ctx, "/api/auth/users/invite", email, name)
}

func (c *Client) postUser(ctx context.Context, path, email, name string) (User, error) {
	body := struct {
		Email string  `json:"email"`
		Name  *string `json:"name"`
	}{Email: strings.TrimSpace(email)}
	if n := strings.TrimSpace(name); n != "" {
		body.Name = &n
	}
	var out User
	err := c.doJSON(ctx, http.MethodPost, path, nil, body, &out)
	return out, err
}

func (c *Client) message(ctx context.Context, path string, body interface{}) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.doJSON(ctx, http.MethodPost, path, nil, body, &out)
	return out.Message, err
}
