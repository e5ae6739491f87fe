package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// TokenSource supplies bearer tokens to the client. RefreshToken is called
// with the token the server just rejected.
type TokenSource interface {
	GetToken(ctx context.Context) (jamf.AccessToken, error)
	RefreshToken(ctx context.Context, stale string) (jamf.AccessToken, error)
}

// Client is the request executor: it composes URLs against the server's base
// URL, attaches the bearer token, and maps responses onto typed errors.
type Client struct {
	baseURL      string
	httpClient   *retryablehttp.Client
	transport    *http.Transport
	tokens       TokenSource
	logger       jamf.Logger
	debug        bool
	userAgent    string
	timeout      time.Duration
	interceptors *jamf.InterceptorChain
	metricsChain *jamf.InterceptorChain

	closed    atomic.Bool
	closeOnce sync.Once
}

// Request represents an HTTP request.
type Request struct {
	Method string
	// Path is appended to the base URL.
	Path string
	// URL is an absolute URL used instead of the base URL, e.g. a signed
	// download link.
	URL   string
	Query url.Values
	// Body is JSON encoded unless RawBody is set.
	Body        interface{}
	RawBody     []byte
	ContentType string
	Headers     map[string]string
	// NoAuth omits the Authorization header.
	NoAuth bool
	// Timeout overrides the client's per-request timeout.
	Timeout time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger jamf.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithRetryConfig enables retries of 5xx, 429 and connection errors. A 401
// is never retried here.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.httpClient.RetryMax = maxRetries
		c.httpClient.RetryWaitMin = waitMin
		c.httpClient.RetryWaitMax = waitMax
	}
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// WithTransport replaces the pooled transport.
func WithTransport(transport *http.Transport) Option {
	return func(c *Client) {
		c.transport = transport
		c.httpClient.HTTPClient.Transport = transport
	}
}

// WithCookieJar sets the cookie jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.httpClient.HTTPClient.Jar = jar
	}
}

// WithInterceptors runs chain around every request.
func WithInterceptors(chain *jamf.InterceptorChain) Option {
	return func(c *Client) {
		c.interceptors = chain
	}
}

// WithMetrics records every request on metrics.
func WithMetrics(metrics *jamf.Metrics) Option {
	return func(c *Client) {
		if metrics == nil {
			c.metricsChain = nil

			return
		}

		chain := jamf.NewInterceptorChain()
		chain.AddRequestInterceptor(jamf.MetricsRequestInterceptor())
		chain.AddResponseInterceptor(jamf.MetricsResponseInterceptor(metrics))
		c.metricsChain = chain
	}
}

// NewClient creates a client for baseURL. tokens may be nil for
// unauthenticated use.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) *Client {
	transport := cleanTransport()

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Transport: transport}
	retryClient.RetryMax = 0
	retryClient.RetryWaitMin = constants.DefaultRetryWaitMin
	retryClient.RetryWaitMax = constants.DefaultRetryWaitMax
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: retryClient,
		transport:  transport,
		tokens:     tokens,
		logger:     jamf.NopLogger{},
		userAgent:  jamf.DefaultUserAgent(),
		timeout:    constants.DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	client.httpClient.Logger = leveledLogger{logger: client.logger}

	return client
}

func cleanTransport() *http.Transport {
	transport, _ := NewTransport(jamf.DefaultSessionConfig())

	return transport
}

// checkRetry defers to the default policy except for 401, which the client
// handles with a token refresh.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return false, nil
	}

	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// BaseURL returns the base URL requests are composed against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout returns the per-request timeout applied when a Request sets none.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// StandardClient returns a plain *http.Client sharing this client's transport
// and cookie jar, for callers that manage their own requests.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: c.httpClient.HTTPClient.Transport,
		Jar:       c.httpClient.HTTPClient.Jar,
		Timeout:   c.timeout,
	}
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if c.transport != nil {
			c.transport.CloseIdleConnections()
		}
	})

	return nil
}

// Do executes a request. A 401 triggers one token refresh and one retry; a
// second 401 is an *jamf.AuthenticationError. Other non-2xx statuses are
// returned as *jamf.APIRequestError together with the response.
func (c *Client) Do(ctx context.Context, req *Request) (*jamf.Response, error) {
	if c.closed.Load() {
		return nil, jamf.ErrClientClosed
	}

	var token jamf.AccessToken

	if c.tokens != nil && !req.NoAuth {
		var err error

		token, err = c.tokens.GetToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil && !req.NoAuth {
		token, err = c.tokens.RefreshToken(ctx, token.Value)
		if err != nil {
			return resp, err
		}

		resp, err = c.send(ctx, req, token)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			return resp, &jamf.AuthenticationError{
				Op:         "request",
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: %s %s", jamf.ErrUnauthorized, req.Method, c.describe(req)),
			}
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return resp, jamf.NewAPIRequestError(req.Method, c.describe(req), resp.StatusCode, resp.Body)
	}

	return resp, nil
}

func (c *Client) describe(req *Request) string {
	if req.URL != "" {
		parsed, err := url.Parse(req.URL)
		if err == nil {
			return parsed.Host + parsed.Path
		}
	}

	return req.Path
}

func (c *Client) send(ctx context.Context, req *Request, token jamf.AccessToken) (*jamf.Response, error) {
	target, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	info := &jamf.RequestInfo{
		Method:   req.Method,
		Path:     c.describe(req),
		Headers:  make(http.Header),
		Body:     body,
		Metadata: make(map[string]interface{}),
	}

	info.Headers.Set("Accept", "application/json")
	info.Headers.Set("User-Agent", c.userAgent)

	if contentType != "" {
		info.Headers.Set("Content-Type", contentType)
	}

	for key, value := range req.Headers {
		info.Headers.Set(key, value)
	}

	if !token.IsZero() {
		info.Headers.Set("Authorization", "Bearer "+token.Value)
	}

	err = c.interceptors.ExecuteRequestInterceptors(ctx, info)
	if err != nil {
		return nil, err
	}

	err = c.metricsChain.ExecuteRequestInterceptors(ctx, info)
	if err != nil {
		return nil, err
	}

	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, rawBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header = info.Headers

	if c.debug {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    redactQuery(target),
		})
	}

	start := time.Now()

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		respInfo := &jamf.ResponseInfo{Error: err}
		_ = c.metricsChain.ExecuteResponseInterceptors(ctx, info, respInfo)
		_ = c.interceptors.ExecuteResponseInterceptors(ctx, info, respInfo)

		return nil, fmt.Errorf("%s %s: %w", req.Method, info.Path, err)
	}

	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &jamf.Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}

	if c.debug {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"status_code": resp.StatusCode,
			"duration":    time.Since(start).String(),
			"bytes":       len(respBody),
		})
	}

	respInfo := &jamf.ResponseInfo{StatusCode: resp.StatusCode, Headers: resp.Headers, Body: respBody}

	err = c.metricsChain.ExecuteResponseInterceptors(ctx, info, respInfo)
	if err != nil {
		return nil, err
	}

	err = c.interceptors.ExecuteResponseInterceptors(ctx, info, respInfo)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) buildURL(req *Request) (string, error) {
	raw := req.URL
	if raw == "" {
		path := req.Path
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		raw = c.baseURL + path
	}

	target, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}

	if len(req.Query) > 0 {
		query := target.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}

		target.RawQuery = query.Encode()
	}

	return target.String(), nil
}

func encodeBody(req *Request) ([]byte, string, error) {
	if req.RawBody != nil {
		return req.RawBody, req.ContentType, nil
	}

	if req.Body == nil {
		return nil, req.ContentType, nil
	}

	data, err := json.Marshal(req.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	return data, contentType, nil
}

// redactQuery drops the query string, which carries signatures on signed URLs.
func redactQuery(raw string) string {
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		return raw[:idx]
	}

	return raw
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*jamf.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*jamf.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*jamf.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, body interface{}) (*jamf.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*jamf.Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path})
}

// IsTimeout reports whether err is a per-request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// leveledLogger adapts jamf.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger jamf.Logger
}

func (l leveledLogger) fields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}

		fields[key] = keysAndValues[i+1]
	}

	return fields
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, l.fields(keysAndValues))
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, l.fields(keysAndValues))
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, l.fields(keysAndValues))
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, l.fields(keysAndValues))
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
