// Package http implements the backend client over HTTP: cookie or bearer
// sessions, identity lookups, and streamed chat replies.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fwojciec/margin"
	"go.uber.org/zap"
)

// Interface compliance checks.
var (
	_ margin.AuthService = (*Client)(nil)
	_ margin.ChatService = (*Client)(nil)
)

const (
	defaultBaseURL   = "http://localhost:8000"
	defaultLoginPath = "/auth/jwt/login"
	defaultDemoEmail = "demo@example.com"

	mePath        = "/auth/me"
	startDemoPath = "/auth/start-demo"
	logoutPath    = "/auth/logout"
	chatPath      = "/chat/chat"
)

// Client talks to the reading service backend.
type Client struct {
	baseURL       string
	loginPath     string
	demoEmail     string
	headerTimeout time.Duration
	httpClient    *http.Client
	jar           *jar
	logger        *zap.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client. Its cookie jar is replaced by the
// client's own.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLoginPath sets the path credentials are posted to.
func WithLoginPath(path string) Option {
	return func(c *Client) { c.loginPath = path }
}

// WithDemoEmail sets the address that identifies the demo account when the
// backend does not flag demo identities explicitly.
func WithDemoEmail(email string) Option {
	return func(c *Client) { c.demoEmail = email }
}

// WithHeaderTimeout bounds the wait for response headers. It does not limit
// how long a streamed body may take. Ignored when WithHTTPClient is used.
func WithHeaderTimeout(d time.Duration) Option {
	return func(c *Client) { c.headerTimeout = d }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a new [Client] with the given options.
func New(opts ...Option) (*Client, error) {
	j, err := newJar()
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	c := &Client{
		baseURL:   defaultBaseURL,
		loginPath: defaultLoginPath,
		demoEmail: defaultDemoEmail,
		jar:       j,
		logger:    zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = c.headerTimeout
		c.httpClient = &http.Client{Transport: t}
	}
	hc := *c.httpClient
	hc.Jar = c.jar
	c.httpClient = &hc
	return c, nil
}

// do sends req with the grant's bearer token attached when there is one.
// Transport failures are wrapped with margin.ErrNetwork.
func (c *Client) do(req *http.Request, grant margin.Grant) (*http.Response, error) {
	if grant.Mode() == margin.AuthModeBearer {
		req.Header.Set("Authorization", "Bearer "+grant.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("http: %s %s: %w", req.Method, req.URL.Path, ctxErr)
		}
		return nil, fmt.Errorf("http: %s %s: %w: %w", req.Method, req.URL.Path, margin.ErrNetwork, err)
	}
	c.logger.Debug("backend response",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode))
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// detail extracts the human-readable reason from an error body. Bodies
// without a detail field fall back to the status text.
func detail(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}
	var e apiError
	if err := json.Unmarshal(body, &e); err != nil || len(e.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}
	var s string
	if err := json.Unmarshal(e.Detail, &s); err == nil {
		return s
	}
	return string(e.Detail)
}

func rejected(resp *http.Response) error {
	return fmt.Errorf("http: %s: %w", resp.Request.URL.Path, &margin.RequestRejectedError{Status: resp.StatusCode})
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
