// Package api provides the HTTP client for the code-review platform API.
//
// Every request carries the stored session credential. A 401 on a Jira
// connection endpoint triggers a single-flight token refresh, after which the
// failed request and every request that queued behind it are replayed.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/crview/crview-cli/internal/credstore"
	"github.com/crview/crview-cli/internal/metrics"
)

const (
	// DefaultTimeout bounds ordinary (non-streaming) requests.
	DefaultTimeout = 30 * time.Second

	// DefaultRefreshTimeout bounds the token refresh call.
	DefaultRefreshTimeout = 30 * time.Second
)

// Client is an HTTP client for the code-review platform API
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	creds        credstore.Store
	refresh      *RefreshTransport
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	timeout        time.Duration
	refreshTimeout time.Duration
	base           http.RoundTripper
	metrics        *metrics.Collectors
	logger         *slog.Logger
	refresher      Refresher
}

// WithTimeout sets the timeout for non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRefreshTimeout bounds the token refresh call. Hitting it counts as a refresh failure.
func WithRefreshTimeout(d time.Duration) Option {
	return func(o *options) { o.refreshTimeout = d }
}

// WithTransport replaces the network transport (http.DefaultTransport).
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithMetrics records request and refresh metrics into c.
func WithMetrics(c *metrics.Collectors) Option {
	return func(o *options) { o.metrics = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRefresher replaces the Jira token refresher.
func WithRefresher(r Refresher) Option {
	return func(o *options) { o.refresher = r }
}

// NewClient creates a new API client.
// The transport chain is: refresh -> bearer credential -> metrics -> network.
func NewClient(baseURL string, creds credstore.Store, opts ...Option) (*Client, error) {
	if creds == nil {
		return nil, errors.New("credential store is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: must be an absolute http(s) URL", baseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	o := options{
		timeout:        DefaultTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		base:           http.DefaultTransport,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	authed := &bearerTransport{
		base:  NewMetricsTransport(o.base, o.metrics),
		creds: creds,
	}

	refresher := o.refresher
	if refresher == nil {
		refresher = NewJiraRefresher(baseURL, &http.Client{Transport: authed})
	}

	rt := NewRefreshTransport(authed, refresher, creds,
		withRefreshTimeout(o.refreshTimeout),
		withRefreshLogger(o.logger),
		withRefreshMetrics(o.metrics),
	)

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: rt,
			Timeout:   o.timeout,
		},
		// Streams stay open as long as the server keeps sending; they are bounded by ctx.
		streamClient: &http.Client{Transport: rt},
		creds:        creds,
		refresh:      rt,
		logger:       o.logger,
	}, nil
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying authenticated http.Client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// RefreshConnection refreshes the Jira token of a connection. A returned
// access token replaces the session credential, exactly as after a 401.
func (c *Client) RefreshConnection(ctx context.Context, connectionID string) (string, error) {
	return c.refresh.Refresh(ctx, connectionID)
}

// Credentials returns the credential store the client reads from.
func (c *Client) Credentials() credstore.Store {
	return c.creds
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// Request performs an HTTP request to the API
func (c *Client) Request(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	contentType := ""
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
		contentType = "application/json"
	}

	req, err := c.newRequest(ctx, method, path, bodyReader, contentType)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.Request(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.Request(ctx, http.MethodPost, path, body, result)
}

// Put performs a PUT request
func (c *Client) Put(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.Request(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.Request(ctx, http.MethodDelete, path, body, result)
}

// PostForm performs a POST request with a form-encoded body
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, result interface{}) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// ErrorResponse represents an error response from the API.
// FastAPI puts the reason in "detail", which is a string or a validation error list.
type ErrorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// APIError represents an error returned by the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized checks if the error is an unauthorized error
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsNotFound checks if the error is a not found error
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err wraps an APIError with status 401.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsUnauthorized()
}

// IsNotFound reports whether err wraps an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// ParseError builds an APIError from a failed response's status and body.
func ParseError(status int, body []byte) *APIError {
	return newAPIError(status, body)
}

func newAPIError(status int, body []byte) *APIError {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		if msg := detailMessage(errResp.Detail); msg != "" {
			return &APIError{StatusCode: status, Message: msg}
		}
		if errResp.Message != "" {
			return &APIError{StatusCode: status, Message: errResp.Message}
		}
	}
	return &APIError{
		StatusCode: status,
		Message:    fmt.Sprintf("request failed with status %d", status),
	}
}

func detailMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// bearerTransport attaches the stored credential to every request it sends.
// The credential is read per send, so a replay after a refresh carries the new one.
type bearerTransport struct {
	base  http.RoundTripper
	creds credstore.Store
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := credstore.Lookup(req.Context(), t.creds)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	if token == "" {
		return t.base.RoundTrip(req)
	}

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return t.base.RoundTrip(out)
}
