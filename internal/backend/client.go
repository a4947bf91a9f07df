// Package backend is a typed client for the quotation backend API. It can
// talk to the backend directly with the service secret or through the
// gateway with a session token; both are sent as a bearer credential.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds each call.
const DefaultTimeout = 60 * time.Second

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBearer sets the credential sent on every call.
func WithBearer(token string) Option {
	return func(c *Client) { c.bearer = token }
}

// WithHeader adds a header to every call, e.g. X-User-Email when calling the
// backend directly on behalf of a user.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers.Set(key, value) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client calls the backend API.
type Client struct {
	base    string
	bearer  string
	headers http.Header
	http    *http.Client
	logger  zerolog.Logger
}

// New returns a client rooted at baseURL, which is either the backend itself
// or the gateway prefix (e.g. http://localhost:3001/api/backend).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimSuffix(baseURL, "/"),
		headers: http.Header{},
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx answer from the backend. Detail carries the
// backend's own explanation, taken from "detail" or else "message".
type APIError struct {
	Status  int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// UserMessage returns the backend's detail when err carries one, else
// fallback.
func UserMessage(err error, fallback string) string {
	if apiErr, ok := asAPIError(err); ok && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Status == status
}

// newAPIError normalizes an error body. FastAPI sends {"detail": "..."} or,
// for validation errors, {"detail": [{"msg": "..."}]}; other services send
// {"message": "..."}.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &payload) != nil {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
			e.Detail = text
		}
		return e
	}

	var detail string
	var items []struct {
		Msg string `json:"msg"`
	}
	switch {
	case json.Unmarshal(payload.Detail, &detail) == nil && detail != "":
		e.Detail = detail
	case json.Unmarshal(payload.Detail, &items) == nil && len(items) > 0:
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		e.Detail = strings.Join(msgs, "; ")
	case payload.Message != "":
		e.Detail = payload.Message
	}
	return e
}

// response is a raw successful answer.
type response struct {
	Status      int
	ContentType string
	Disposition string
	Body        []byte
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, */*")
	return req, nil
}

// send performs req and returns the body of a 2xx answer. Any other status
// becomes an *APIError.
func (c *Client) send(req *http.Request) (*response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	return &response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Disposition: resp.Header.Get("Content-Disposition"),
		Body:        body,
	}, nil
}

// doJSON sends in as JSON (when not nil) and decodes the answer into out
// (when not nil).
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := c.newRequest(ctx, method, path, query, body, "application/json")
	if err != nil {
		return err
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	return decodeBody(path, resp.Body, out)
}

func decodeBody(path string, body []byte, out interface{}) error {
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// doRaw sends body as is and returns the raw answer, for binary downloads
// and multipart uploads.
func (c *Client) doRaw(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*response, error) {
	req, err := c.newRequest(ctx, method, path, query, body, contentType)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// fileName extracts the filename parameter of a Content-Disposition header.
func fileName(disposition, fallback string) string {
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil || params["filename"] == "" {
		return fallback
	}
	return params["filename"]
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
