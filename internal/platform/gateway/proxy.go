// Package gateway relays browser requests to the backend API. It decides per
// path whether a session is required, swaps the caller's credentials for the
// service secret and relays the backend's answer without reinterpreting it.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/cotizador/cotizador/internal/platform/auth"
	"github.com/cotizador/cotizador/internal/platform/middleware"
)

// Prefix is where the gateway is mounted.
const Prefix = "/api/backend"

// DefaultTimeout bounds a single upstream exchange.
const DefaultTimeout = 60 * time.Second

// AllowedMethods are the verbs answered on Prefix.
var AllowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
}

// IdentityResolver resolves the caller of an inbound request.
type IdentityResolver interface {
	Resolve(r *http.Request) auth.Identity
}

// Config configures a Proxy.
type Config struct {
	// BaseURL is the backend root, e.g. https://api.example.com.
	BaseURL string
	// ServiceSecret is the bearer credential the backend trusts. When it is
	// empty every forward fails with ErrMisconfigured.
	ServiceSecret string
	Timeout       time.Duration
	Public        *auth.PathClassifier
	Resolver      IdentityResolver
}

// Descriptor is a request to forward, taken from the inbound request.
type Descriptor struct {
	Method   string
	Segments []string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// Path joins the segments into the canonical backend path, without a
// leading slash.
func (d Descriptor) Path() string {
	return strings.Join(d.Segments, "/")
}

type Option func(*Proxy)

// WithHTTPClient replaces the client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) { p.client = c }
}

// Proxy forwards requests to the backend.
type Proxy struct {
	base     string
	secret   string
	public   *auth.PathClassifier
	resolver IdentityResolver
	client   *http.Client
	logger   zerolog.Logger
}

func NewProxy(cfg Config, logger zerolog.Logger, opts ...Option) *Proxy {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	public := cfg.Public
	if public == nil {
		public = auth.NewPathClassifier(nil)
	}
	p := &Proxy{
		base:     strings.TrimSuffix(cfg.BaseURL, "/"),
		secret:   cfg.ServiceSecret,
		public:   public,
		resolver: cfg.Resolver,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// RegisterRoutes mounts the proxy on Prefix and everything below it.
func (p *Proxy) RegisterRoutes(e *echo.Echo) {
	for _, path := range []string{Prefix, Prefix + "/*"} {
		e.Match(AllowedMethods, path, p.Handle)
	}
}

// Handle is the echo handler for proxied routes.
func (p *Proxy) Handle(c echo.Context) error {
	req := c.Request()
	if req.Method == http.MethodOptions {
		return p.options(c)
	}

	d := Descriptor{
		Method:   req.Method,
		Segments: splitSegments(c.Param("*")),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	reply, err := p.Forward(req.Context(), d, func() auth.Identity { return p.identity(req) })
	if err != nil {
		return writeError(c, err)
	}
	return reply.write(c)
}

// AllowHeader sets Allow on OPTIONS requests under Prefix. It must run before
// CORS, which answers preflights without reaching the proxy.
func AllowHeader() echo.MiddlewareFunc {
	allow := strings.Join(AllowedMethods, ", ")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method == http.MethodOptions && underPrefix(req.URL.Path) {
				c.Response().Header().Set(echo.HeaderAllow, allow)
			}
			return next(c)
		}
	}
}

func underPrefix(path string) bool {
	return path == Prefix || strings.HasPrefix(path, Prefix+"/")
}

func (p *Proxy) options(c echo.Context) error {
	allow := strings.Join(AllowedMethods, ", ")
	h := c.Response().Header()
	h.Set(echo.HeaderAllow, allow)
	h.Set(echo.HeaderAccessControlAllowMethods, allow)
	h.Set(echo.HeaderAccessControlAllowHeaders, "Content-Type, Authorization")
	return c.NoContent(http.StatusNoContent)
}

func (p *Proxy) identity(req *http.Request) auth.Identity {
	if id, ok := auth.IdentityFromContext(req.Context()); ok {
		return id
	}
	if p.resolver == nil {
		return auth.Identity{}
	}
	return p.resolver.Resolve(req)
}

// Forward sends d to the backend and classifies the response. identity is
// called at most once, after the configuration check, so a misconfigured
// gateway never verifies tokens. The returned error is always an *Error.
func (p *Proxy) Forward(ctx context.Context, d Descriptor, identity func() auth.Identity) (Reply, error) {
	path := d.Path()
	if p.secret == "" {
		return nil, ErrMisconfigured
	}

	var id auth.Identity
	if identity != nil {
		id = identity()
	}
	if !p.public.IsPublic(path) && !id.Present() {
		return nil, ErrSessionRequired
	}

	upstream, err := p.newUpstreamRequest(ctx, d, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(upstream)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("method", d.Method).
			Str("upstream_path", "/"+path).
			Dur("duration", time.Since(start)).
			Msg("backend unreachable")
		return nil, upstreamError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Warn().Err(err).Str("upstream_path", "/"+path).Msg("read backend response")
		return nil, upstreamError(err)
	}

	p.logger.Debug().
		Str("method", d.Method).
		Str("upstream_path", "/"+path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend response")

	return classifyResponse(resp, body), nil
}

func (p *Proxy) newUpstreamRequest(ctx context.Context, d Descriptor, id auth.Identity) (*http.Request, error) {
	target := p.base + "/" + d.Path()
	if d.RawQuery != "" {
		target += "?" + d.RawQuery
	}

	inboundCT := d.Header.Get(echo.HeaderContentType)
	body, length, err := upstreamBody(d, inboundCT)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, target, body)
	if err != nil {
		return nil, &Error{Status: http.StatusBadGateway, Detail: upstreamFallbackDetail, cause: err}
	}
	if length >= 0 {
		req.ContentLength = length
	}

	ct := inboundCT
	if ct == "" {
		ct = echo.MIMEApplicationJSON
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+p.secret)
	req.Header.Set(echo.HeaderContentType, ct)
	req.Header.Set("Cache-Control", "no-store")
	if rid := d.Header.Get(middleware.RequestIDHeader); rid != "" {
		req.Header.Set(middleware.RequestIDHeader, rid)
	}
	if id.Present() {
		req.Header.Set("X-User-Id", id.UserID)
		req.Header.Set("X-User-Email", id.Email)
	}
	return req, nil
}

// upstreamBody picks the body to send. Multipart bodies are streamed as they
// arrive; other bodies are buffered. The returned length is -1 when unknown.
func upstreamBody(d Descriptor, contentType string) (io.Reader, int64, error) {
	if d.Method == http.MethodGet || d.Method == http.MethodHead || d.Body == nil || d.Body == http.NoBody {
		return nil, 0, nil
	}
	if strings.Contains(contentType, echo.MIMEMultipartForm) {
		return d.Body, -1, nil
	}
	buf, err := io.ReadAll(d.Body)
	if err != nil {
		if errors.Is(err, middleware.ErrBodyTooLarge) {
			return nil, 0, bodyTooLarge(err)
		}
		return nil, 0, &Error{Status: http.StatusBadRequest, Detail: "No se pudo leer el cuerpo de la solicitud", cause: err}
	}
	if len(buf) == 0 {
		return nil, 0, nil
	}
	return bytes.NewReader(buf), int64(len(buf)), nil
}

func classifyResponse(resp *http.Response, body []byte) Reply {
	ct := resp.Header.Get(echo.HeaderContentType)
	switch Classify(ct, body) {
	case KindBinary:
		return BinaryReply{
			Status:      resp.StatusCode,
			ContentType: ct,
			Disposition: resp.Header.Get(echo.HeaderContentDisposition),
			Body:        body,
		}
	case KindJSON:
		return JSONReply{Status: resp.StatusCode, Value: decodeJSON(body)}
	default:
		return TextReply{Status: resp.StatusCode, ContentType: ct, Body: body}
	}
}

func decodeJSON(body []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return map[string]interface{}{}
	}
	return v
}

func splitSegments(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// causeMessage unwraps transport errors to their innermost message so the
// backend URL is not echoed to the browser.
func causeMessage(err error) string {
	if err == nil {
		return ""
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		err = uerr.Err
	}
	return err.Error()
}
