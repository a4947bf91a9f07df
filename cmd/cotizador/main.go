package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cotizador/cotizador/internal/backend"
	"github.com/cotizador/cotizador/internal/config"
	"github.com/cotizador/cotizador/internal/platform/auth"
	"github.com/cotizador/cotizador/internal/platform/gateway"
	"github.com/cotizador/cotizador/internal/platform/middleware"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cotizador",
		Short:         "Quotation gateway and tools for the clinic network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(pricesCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger writes JSON to stdout, or a console format in development.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}

// resolveSessionSecret returns the configured signing key. In development an
// empty secret is replaced by a random one; sessions then do not survive a
// restart.
func resolveSessionSecret(cfg *config.Config) ([]byte, bool, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), false, nil
	}
	if !cfg.IsDev() {
		return nil, false, fmt.Errorf("SESSION_SECRET is required when ENV=%q", cfg.Env)
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random session secret: %w", err)
	}
	return []byte(hex.EncodeToString(key)), true, nil
}

func newSessionResolver(cfg *config.Config, key []byte) *auth.SessionResolver {
	return auth.NewSessionResolver(auth.SessionConfig{
		SigningKey: key,
		CookieName: cfg.SessionCookie,
		Issuer:     cfg.SessionIssuer,
		TTL:        cfg.SessionTTL,
	})
}

// newServer wires the echo instance. It is split from runServer so the
// wiring can be exercised without binding a port.
func newServer(cfg *config.Config, resolver *auth.SessionResolver, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)
	e.JSONSerializer = gateway.JSONSerializer{}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(gateway.AllowHeader())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     gateway.AllowedMethods,
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Disposition", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.MaxBodySize, cfg.MaxUploadSize))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// Session middleware
	e.Use(auth.SessionMiddleware(resolver, auth.AuthSkipper))

	// Rate limiting runs after the session so callers are keyed by user id.
	if cfg.RateLimitRPS > 0 {
		e.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}))
	}

	// Login against the backend user store, with the service secret.
	verifier := backend.New(cfg.BackendURL,
		backend.WithBearer(cfg.BackendAPISecret),
		backend.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		backend.WithLogger(logger),
	)
	auth.NewLoginHandler(resolver, verifier, cfg.SecureCookies, logger).RegisterRoutes(e)

	// Backend gateway
	gateway.NewProxy(gateway.Config{
		BaseURL:       cfg.BackendURL,
		ServiceSecret: cfg.BackendAPISecret,
		Timeout:       cfg.UpstreamTimeout,
		Public:        auth.NewPathClassifier(cfg.PublicPaths),
		Resolver:      resolver,
	}, logger).RegisterRoutes(e)

	// Health
	gateway.NewHealthHandler(cfg.BackendURL, cfg.CronSecret, 10*time.Second, logger).RegisterRoutes(e)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger
	logger := newLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	key, generated, err := resolveSessionSecret(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve session secret")
	}
	if generated {
		logger.Warn().Msg("SESSION_SECRET is not set; using a random key, sessions end on restart")
	}

	e := newServer(cfg, newSessionResolver(cfg, key), logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("backend", cfg.BackendURL).
			Strs("public_paths", cfg.PublicPaths).
			Msg("starting gateway")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gateway")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("gateway stopped")
	return nil
}
