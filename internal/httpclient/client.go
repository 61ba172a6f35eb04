// Package httpclient provides the shared HTTP client used for image source
// APIs and the classifier service: per-request timeouts from context,
// connection pooling, User-Agent injection and observability hooks.
package httpclient

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout = 30 * time.Second

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second

	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
	defaultDialTimeout           = 30 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "Pawdentify/1.0"

	// maxErrorBodyBytes caps how much of a failed response is kept for errors
	maxErrorBodyBytes = 512
)

// Client wraps http.Client with context-based timeouts and hooks.
// Safe for concurrent use.
type Client struct {
	client         *http.Client
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error)
}

// Config holds configuration for creating an HTTP client.
type Config struct {
	// DefaultTimeout is the timeout applied if request context has no deadline
	DefaultTimeout time.Duration

	// UserAgent is added to all requests that do not set their own
	UserAgent string

	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	ExpectContinueTimeout time.Duration
	DisableKeepAlives     bool
	DisableCompression    bool

	// Transport replaces the tuned default transport. Tests pass an
	// httpmock transport here.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:        DefaultTimeout,
		UserAgent:             defaultUserAgent,
		MaxIdleConns:          defaultMaxIdleConns,
		MaxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
	}
}

// New creates a new HTTP client. A nil cfg uses DefaultConfig; the caller's
// config is never mutated.
func New(cfg *Config) *Client {
	c := DefaultConfig()
	if cfg != nil {
		c = withDefaults(*cfg)
	}

	transport := c.Transport
	if transport == nil {
		transport = newTransport(&c)
	}

	return &Client{
		// No http.Client timeout; Do derives one from the request context
		client:         &http.Client{Transport: transport},
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}
}

func newTransport(c *Config) *http.Transport {
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultDialKeepAlive}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          c.MaxIdleConns,
		MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
		IdleConnTimeout:       c.IdleConnTimeout,
		TLSHandshakeTimeout:   c.TLSHandshakeTimeout,
		ResponseHeaderTimeout: c.ResponseHeaderTimeout,
		ExpectContinueTimeout: c.ExpectContinueTimeout,
		DisableKeepAlives:     c.DisableKeepAlives,
		DisableCompression:    c.DisableCompression,
	}
}

// withDefaults fills zero fields from DefaultConfig
func withDefaults(c Config) Config {
	d := DefaultConfig()
	c.DefaultTimeout = cmp.Or(c.DefaultTimeout, d.DefaultTimeout)
	c.UserAgent = cmp.Or(c.UserAgent, d.UserAgent)
	c.MaxIdleConns = cmp.Or(c.MaxIdleConns, d.MaxIdleConns)
	c.MaxIdleConnsPerHost = cmp.Or(c.MaxIdleConnsPerHost, d.MaxIdleConnsPerHost)
	c.IdleConnTimeout = cmp.Or(c.IdleConnTimeout, d.IdleConnTimeout)
	c.TLSHandshakeTimeout = cmp.Or(c.TLSHandshakeTimeout, d.TLSHandshakeTimeout)
	c.ResponseHeaderTimeout = cmp.Or(c.ResponseHeaderTimeout, d.ResponseHeaderTimeout)
	c.ExpectContinueTimeout = cmp.Or(c.ExpectContinueTimeout, d.ExpectContinueTimeout)
	return c
}

// RequestOption modifies an outgoing request built by Get or Post
type RequestOption func(*http.Request)

// WithHeader sets a request header
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// Do executes an HTTP request. If ctx has no deadline the client's default
// timeout applies. The response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		// The cancel is deferred to body close so callers can still read it
		req = req.WithContext(ctx)
		resp, err := c.do(req)
		if err != nil || resp == nil {
			cancel()
			return resp, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.do(req.WithContext(ctx))
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	beforeHook := c.beforeRequest
	c.hookMu.RUnlock()
	if beforeHook != nil {
		beforeHook(req)
	}

	resp, err := c.client.Do(req)

	c.hookMu.RLock()
	afterHook := c.afterResponse
	c.hookMu.RUnlock()
	if afterHook != nil {
		afterHook(req, resp, err)
	}

	return resp, err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, url, http.NoBody, opts)
}

// Post performs a POST request. body may be nil, an io.Reader, []byte, a
// string, or any other value, which is sent as JSON. An empty contentType
// becomes application/json for JSON-encoded bodies.
func (c *Client) Post(ctx context.Context, url, contentType string, body any, opts ...RequestOption) (*http.Response, error) {
	reader, isJSON, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	if contentType == "" && isJSON {
		contentType = "application/json"
	}
	if contentType != "" {
		opts = append([]RequestOption{WithHeader("Content-Type", contentType)}, opts...)
	}
	return c.send(ctx, http.MethodPost, url, reader, opts)
}

func (c *Client) send(ctx context.Context, method, url string, body io.Reader, opts []RequestOption) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	for _, opt := range opts {
		opt(req)
	}
	return c.Do(ctx, req)
}

func encodeBody(body any) (reader io.Reader, isJSON bool, err error) {
	switch v := body.(type) {
	case nil:
		return http.NoBody, false, nil
	case io.Reader:
		return v, false, nil
	case []byte:
		return bytes.NewReader(v), false, nil
	case string:
		return strings.NewReader(v), false, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, fmt.Errorf("failed to marshal body: %w", err)
		}
		return bytes.NewReader(data), true, nil
	}
}

// StatusError describes a non-2xx response
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
	// RetryAfter is parsed from the Retry-After header when present
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx responses. The body is
// drained and closed in that case; on success it is left for the caller.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	statusErr := &StatusError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(snippet)),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		u := *resp.Request.URL
		u.RawQuery = ""
		statusErr.URL = u.String()
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			statusErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return statusErr
}

// SetBeforeRequestHook sets a function called before each request.
// Safe to call concurrently with Do.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function called after each request.
// Safe to call concurrently with Do.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the connection pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
