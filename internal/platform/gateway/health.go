package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HealthHandler serves the gateway's own liveness check and the backend
// keep-alive ping called by the deployment's cron.
type HealthHandler struct {
	backendURL string
	cronSecret string
	client     *http.Client
	logger     zerolog.Logger
}

func NewHealthHandler(backendURL, cronSecret string, timeout time.Duration, logger zerolog.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HealthHandler{
		backendURL: backendURL,
		cronSecret: cronSecret,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Live)
	e.GET("/health/backend", h.Backend)
}

func (h *HealthHandler) Live(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// PingResult is the outcome of pinging the backend health endpoint.
type PingResult struct {
	OK      bool   `json:"ok"`
	Backend string `json:"backend"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Backend pings the backend health endpoint. When a cron secret is
// configured the caller must present it as a bearer token.
func (h *HealthHandler) Backend(c echo.Context) error {
	if h.cronSecret != "" && !h.cronAuthorized(c.Request().Header.Get(echo.HeaderAuthorization)) {
		return c.String(http.StatusUnauthorized, "Unauthorized")
	}

	res := Ping(c.Request().Context(), h.client, h.backendURL)
	if res.Backend == "unreachable" {
		h.logger.Warn().Str("error", res.Error).Msg("backend ping failed")
		return c.JSON(http.StatusBadGateway, res)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *HealthHandler) cronAuthorized(header string) bool {
	want := "Bearer " + h.cronSecret
	return subtle.ConstantTimeCompare([]byte(header), []byte(want)) == 1
}

// Ping calls GET <backendURL>/health. The backend is "awake" when it answers
// 2xx with {"ok": true}, "error" for any other answer and "unreachable" when
// the request fails.
func Ping(ctx context.Context, client *http.Client, backendURL string) PingResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(backendURL, "/")+"/health", nil)
	if err != nil {
		return PingResult{Backend: "unreachable", Error: err.Error()}
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := client.Do(req)
	if err != nil {
		return PingResult{Backend: "unreachable", Error: causeMessage(err)}
	}
	defer resp.Body.Close()

	res := PingResult{
		OK:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		Backend: "error",
		Status:  resp.StatusCode,
	}
	if res.OK {
		var body struct {
			OK bool `json:"ok"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.OK {
			res.Backend = "awake"
		}
	}
	return res
}
