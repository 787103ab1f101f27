package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ibkr-copilot/internal/logger"
)

// Client is a pooled HTTP client shared by all callers. On a transient
// connection failure it drops its transport and retries the request once.
type Client struct {
	mu         sync.RWMutex
	httpClient *http.Client

	baseURL     string
	headers     map[string]string
	timeout     time.Duration
	insecureTLS bool
	poolSize    int
	useLogging  bool
}

func (c *Client) logDebug(ctx context.Context, msg string, args ...interface{}) {
	if c.useLogging {
		logger.Debug(ctx, msg, args...)
	}
}

func (c *Client) logWarn(ctx context.Context, msg string, args ...interface{}) {
	if c.useLogging {
		logger.Warn(ctx, msg, args...)
	}
}

func (c *Client) logError(ctx context.Context, msg string, args ...interface{}) {
	if c.useLogging {
		logger.Error(ctx, msg, args...)
	}
}

// ClientOption configures the API client
type ClientOption func(*Client)

// WithTimeout sets the default per-request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithBaseURL sets the base URL for all requests
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHeader sets a default header for all requests
func WithHeader(key, value string) ClientOption {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithUserAgent sets the identifying User-Agent header
func WithUserAgent(ua string) ClientOption {
	return WithHeader("User-Agent", ua)
}

// WithInsecureTLS skips certificate verification, for gateways with a self-signed certificate
func WithInsecureTLS(insecure bool) ClientOption {
	return func(c *Client) {
		c.insecureTLS = insecure
	}
}

// WithPoolSize bounds the idle connections kept per host
func WithPoolSize(n int) ClientOption {
	return func(c *Client) {
		c.poolSize = n
	}
}

// WithLogging enables logging for the API client
func WithLogging(enabled bool) ClientOption {
	return func(c *Client) {
		c.useLogging = enabled
	}
}

// NewClient creates a new API client with the given options
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		headers:  map[string]string{"User-Agent": "FDC3-Copilot/1.0"},
		timeout:  20 * time.Second,
		poolSize: 5,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.httpClient = &http.Client{Transport: client.newTransport()}
	return client
}

func (c *Client) newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = c.poolSize
	t.MaxConnsPerHost = 0
	if c.insecureTLS {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}

// rebuild swaps in a fresh transport and drops the old one's idle connections.
func (c *Client) rebuild() {
	c.mu.Lock()
	old := c.httpClient
	c.httpClient = &http.Client{Transport: c.newTransport()}
	c.mu.Unlock()
	old.CloseIdleConnections()
}

func (c *Client) client() *http.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TLSConfig returns the TLS settings used for the upstream, for callers that
// open their own connections to the same host.
func (c *Client) TLSConfig() *tls.Config {
	if c.insecureTLS {
		return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return nil
}

// Request represents an HTTP request configuration
type Request struct {
	Method  string
	URL     string
	Body    interface{}
	Headers map[string]string
	Query   url.Values
	Timeout time.Duration
	ctx     context.Context
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// NewRequest creates a new request
func NewRequest(method, url string) *Request {
	return &Request{
		Method:  method,
		URL:     url,
		Headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

// WithContext sets the context for the request
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// WithBody sets the request body (will be JSON encoded)
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// WithHeader sets a request-specific header
func (r *Request) WithHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

// WithQuery adds a query parameter
func (r *Request) WithQuery(key, value string) *Request {
	if r.Query == nil {
		r.Query = url.Values{}
	}
	r.Query.Add(key, value)
	return r
}

// WithTimeout bounds this request, overriding the client default
func (r *Request) WithTimeout(d time.Duration) *Request {
	r.Timeout = d
	return r
}

// Do executes the request. A transient connection failure is retried exactly
// once on a rebuilt transport; every other failure is returned as is.
func (c *Client) Do(req *Request) (*Response, error) {
	attempt := 0
	op := func() (*Response, error) {
		attempt++
		if attempt > 1 {
			c.logWarn(req.ctx, "Rebuilding connection after transient failure", "method", req.Method, "url", req.URL)
			c.rebuild()
		}
		resp, err := c.send(req)
		if err != nil && !transient(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), req.ctx)
	resp, err := backoff.RetryWithData(op, policy)
	if err != nil {
		if transient(err) {
			return nil, &TransientError{Op: req.Method + " " + req.URL, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(req *Request) (*Response, error) {
	fullURL := req.URL
	if c.baseURL != "" {
		fullURL = c.baseURL + req.URL
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		jsonBody, err := json.Marshal(req.Body)
		if err != nil {
			c.logError(req.ctx, "Failed to marshal request body", "error", err)
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(req.ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.headers {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	c.logDebug(req.ctx, "HTTP Request", "method", req.Method, "url", fullURL)

	startTime := time.Now()
	httpResp, err := c.client().Do(httpReq)
	if err != nil {
		c.logError(req.ctx, "HTTP request failed", "method", req.Method, "url", fullURL, "error", err)
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logDebug(req.ctx, "HTTP Response",
		"method", req.Method,
		"url", fullURL,
		"status", httpResp.StatusCode,
		"duration", time.Since(startTime),
		"bodySize", len(body))

	if httpResp.StatusCode >= 400 {
		c.logWarn(req.ctx, "HTTP error response",
			"method", req.Method,
			"url", fullURL,
			"status", httpResp.StatusCode,
			"body", string(body))
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Body: string(body)}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
	}, nil
}

// GET performs a GET request
func (c *Client) GET(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return c.Do(NewRequest(http.MethodGet, url).WithContext(ctx).WithTimeout(timeout))
}

// POST performs a POST request with a JSON body
func (c *Client) POST(ctx context.Context, url string, body interface{}, timeout time.Duration) (*Response, error) {
	return c.Do(NewRequest(http.MethodPost, url).WithContext(ctx).WithBody(body).WithTimeout(timeout))
}

// DELETE performs a DELETE request
func (c *Client) DELETE(ctx context.Context, url string, timeout time.Duration) (*Response, error) {
	return c.Do(NewRequest(http.MethodDelete, url).WithContext(ctx).WithTimeout(timeout))
}

// ParseJSON parses the response body as JSON into the given value
func (r *Response) ParseJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return nil
}

// String returns the response body as a string
func (r *Response) String() string {
	return string(r.Body)
}
