package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPublicPaths are the backend paths reachable without a session.
var DefaultPublicPaths = []string{
	"/api/auth/verify",
	"/api/auth/allowed",
	"/api/auth/register",
	"/api/auth/forgot-password",
	"/api/auth/reset-password",
}

type Config struct {
	Port             string        `mapstructure:"PORT"`
	Env              string        `mapstructure:"ENV"`
	BackendURL       string        `mapstructure:"BACKEND_URL"`
	BackendAPISecret string        `mapstructure:"BACKEND_API_SECRET"`
	SessionSecret    string        `mapstructure:"SESSION_SECRET"`
	SessionCookie    string        `mapstructure:"SESSION_COOKIE"`
	SessionTTL       time.Duration `mapstructure:"SESSION_TTL"`
	SessionIssuer    string        `mapstructure:"SESSION_ISSUER"`
	SecureCookies    bool          `mapstructure:"SECURE_COOKIES"`
	PublicPaths      []string      `mapstructure:"PUBLIC_PATHS"`
	CORSOrigins      []string      `mapstructure:"CORS_ORIGINS"`
	UpstreamTimeout  time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`
	RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	MaxBodySize      string        `mapstructure:"MAX_BODY_SIZE"`
	MaxUploadSize    string        `mapstructure:"MAX_UPLOAD_SIZE"`
	RateLimitRPS     float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst   int           `mapstructure:"RATE_LIMIT_BURST"`
	LogLevel         string        `mapstructure:"LOG_LEVEL"`
	CronSecret       string        `mapstructure:"CRON_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("BACKEND_URL", "http://localhost:8000")
	v.SetDefault("SESSION_COOKIE", "cotizador.session-token")
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("UPSTREAM_TIMEOUT", "60s")
	v.SetDefault("REQUEST_TIMEOUT", "90s")
	v.SetDefault("MAX_BODY_SIZE", "10M")
	v.SetDefault("MAX_UPLOAD_SIZE", "25M")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 60)
	v.SetDefault("LOG_LEVEL", "info")

	// The first name is the key; the rest are env vars the Next.js
	// deployment already exports.
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("BACKEND_URL", "BACKEND_URL", "NEXT_PUBLIC_API_URL")
	v.BindEnv("BACKEND_API_SECRET")
	v.BindEnv("SESSION_SECRET", "SESSION_SECRET", "NEXTAUTH_SECRET")
	v.BindEnv("SESSION_COOKIE")
	v.BindEnv("SESSION_TTL")
	v.BindEnv("SESSION_ISSUER")
	v.BindEnv("SECURE_COOKIES")
	v.BindEnv("PUBLIC_PATHS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("UPSTREAM_TIMEOUT")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("MAX_BODY_SIZE")
	v.BindEnv("MAX_UPLOAD_SIZE")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("CRON_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.PublicPaths = splitList(cfg.PublicPaths, v.GetString("PUBLIC_PATHS"))
	if len(cfg.PublicPaths) == 0 {
		cfg.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}

	if cfg.BackendAPISecret == "" {
		log.Println("WARNING: BACKEND_API_SECRET is not set; every proxied request will fail with 500.")
	}

	return cfg, nil
}

// splitList normalizes list values coming from env vars, which arrive either
// already split or as a single comma-separated string.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 1 && strings.Contains(parsed[0], ",") {
		raw = parsed[0]
		parsed = nil
	}
	if len(parsed) == 0 && raw != "" {
		parsed = strings.Split(raw, ",")
	}
	out := parsed[:0]
	for _, p := range parsed {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. A missing
// BACKEND_API_SECRET is not rejected here: the gateway reports it per request
// with a 500 so the failure is visible to the frontend.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("BACKEND_URL scheme must be http or https, got %q", u.Scheme)
	}

	if !c.IsDev() && c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required when ENV=%q", c.Env)
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters, got %d", len(c.SessionSecret))
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive, got %s", c.UpstreamTimeout)
	}
	if c.RequestTimeout < c.UpstreamTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT (%s) must not be shorter than UPSTREAM_TIMEOUT (%s)", c.RequestTimeout, c.UpstreamTimeout)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if strings.TrimSpace(c.SessionCookie) == "" {
		return fmt.Errorf("SESSION_COOKIE must not be empty")
	}

	return nil
}
