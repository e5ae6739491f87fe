package client

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fivetwenty-io/jamfpro/internal/auth"
	"github.com/fivetwenty-io/jamfpro/internal/constants"
	jamfhttp "github.com/fivetwenty-io/jamfpro/internal/http"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrNoCredentials = errors.New("no credentials configured")
)

// schedulingModel is fixed for the lifetime of a client.
type schedulingModel int

const (
	modelPool schedulingModel = iota
	modelTask
)

// Client implements the jamf.Client interface.
type Client struct {
	httpClient  *jamfhttp.Client
	tokens      *auth.TokenStore
	tokenSource jamfhttp.TokenSource
	baseURL     string
	session     jamf.SessionConfig
	logger      jamf.Logger
	metrics     *jamf.Metrics
	dispatcher  *jamf.Dispatcher

	packages *PackagesClient
	jcds2    *JCDS2
}

// Option configures parts of a client that jamf.Config does not cover.
type Option func(*options)

type options struct {
	s3Factory S3ClientFactory
}

// WithS3ClientFactory replaces how S3 clients are built from the temporary
// credentials of an upload.
func WithS3ClientFactory(factory S3ClientFactory) Option {
	return func(o *options) {
		o.s3Factory = factory
	}
}

// New creates a blocking client. Its dispatcher runs handlers on a worker
// pool and token refreshes are serialized with a mutex.
func New(ctx context.Context, config *jamf.Config, opts ...Option) (*Client, error) {
	return build(ctx, config, modelPool, opts)
}

func build(ctx context.Context, config *jamf.Config, model schedulingModel, opts []Option) (*Client, error) {
	if config == nil {
		return nil, jamf.ErrConfigRequired
	}

	// Normalize fills defaults, so work on a copy of the caller's config.
	cfg := *config

	err := cfg.Normalize()
	if err != nil {
		return nil, err
	}

	baseURL, err := cfg.BaseURL()
	if err != nil {
		return nil, &jamf.ConfigurationError{Field: "server", Err: err}
	}

	var clientOpts options
	for _, opt := range opts {
		opt(&clientOpts)
	}

	var metrics *jamf.Metrics
	if cfg.MetricsRegisterer != nil {
		metrics = jamf.NewMetrics(cfg.MetricsRegisterer)
	}

	transport, err := jamfhttp.NewTransport(cfg.Session)
	if err != nil {
		return nil, &jamf.ConfigurationError{Field: "ca_cert_bundle", Err: err}
	}

	var jar http.CookieJar

	if cfg.Session.CookieFile != "" {
		jar, err = jamfhttp.LoadCookieJar(cfg.Session.CookieFile)
		if err != nil {
			return nil, &jamf.ConfigurationError{Field: "cookie_file", Err: err}
		}
	}

	// Token exchanges share the pool but not the executor, which depends on them.
	tokenHTTP := &http.Client{Transport: transport, Jar: jar, Timeout: constants.ShortHTTPTimeout}

	provider, identity, err := createProvider(&cfg, baseURL, tokenHTTP)
	if err != nil {
		return nil, err
	}

	store := auth.NewTokenStore(provider, storeOptions(&cfg, model, provider, metrics)...)

	var tokenSource jamfhttp.TokenSource = store

	if cfg.TokenCache != nil {
		manager := auth.NewConfigTokenManager(store, cfg.TokenCache, auth.TokenCacheKey(baseURL, identity), cfg.Logger)

		err = manager.Load(ctx)
		if err != nil {
			cfg.Logger.Warn("Ignoring unreadable cached token", map[string]interface{}{"error": err.Error()})
		}

		tokenSource = manager
	}

	httpOpts := createHTTPClientOptions(&cfg, transport, jar, metrics)
	httpClient := jamfhttp.NewClient(baseURL, tokenSource, httpOpts...)

	client := &Client{
		httpClient:  httpClient,
		tokens:      store,
		tokenSource: tokenSource,
		baseURL:     baseURL,
		session:     cfg.Session,
		logger:      cfg.Logger,
		metrics:     metrics,
		dispatcher:  newDispatcher(model, cfg.Session, cfg.Logger, metrics),
	}

	s3Factory := clientOpts.s3Factory
	if s3Factory == nil {
		s3Factory = DefaultS3ClientFactory(&http.Client{Transport: transport})
	}

	client.packages = NewPackagesClient(client)
	client.jcds2 = NewJCDS2(client, client.packages, httpClient, client.dispatcher, s3Factory, cfg.Logger, metrics)

	return client, nil
}

// createProvider picks the credentials provider following the precedence
// documented on jamf.Config. identity keys the persisted token.
func createProvider(cfg *jamf.Config, baseURL string, httpClient *http.Client) (jamf.CredentialsProvider, string, error) {
	switch {
	case cfg.CredentialsProvider != nil:
		return cfg.CredentialsProvider, "provider", nil
	case cfg.ClientID != "" || cfg.ClientSecret != "":
		provider, err := auth.NewClientCredentialsProvider(baseURL, cfg.ClientID, cfg.ClientSecret, httpClient)

		return provider, cfg.ClientID, err
	case cfg.Username != "" || cfg.Password != "":
		provider, err := auth.NewUserCredentialsProvider(baseURL, cfg.Username, cfg.Password, httpClient)

		return provider, cfg.Username, err
	case cfg.AccessToken != "":
		return auth.NewStaticProvider(cfg.AccessToken), "static", nil
	default:
		return nil, "", &jamf.ConfigurationError{Field: "credentials", Err: ErrNoCredentials}
	}
}

func storeOptions(cfg *jamf.Config, model schedulingModel, provider jamf.CredentialsProvider, metrics *jamf.Metrics) []auth.TokenStoreOption {
	storeOpts := []auth.TokenStoreOption{
		auth.WithStoreLogger(cfg.Logger),
		auth.WithStoreMetrics(metrics),
	}

	if model == modelTask {
		storeOpts = append(storeOpts, auth.WithLocker(auth.NewSemaphoreLocker()), auth.WithAsyncRefresh())
	} else {
		storeOpts = append(storeOpts, auth.WithLocker(auth.NewMutexLocker()))
	}

	if static, ok := provider.(*auth.StaticProvider); ok {
		storeOpts = append(storeOpts, auth.WithInitialToken(static.Token()))
	}

	return storeOpts
}

// createHTTPClientOptions builds HTTP client options from config.
func createHTTPClientOptions(cfg *jamf.Config, transport *http.Transport, jar http.CookieJar, metrics *jamf.Metrics) []jamfhttp.Option {
	httpOpts := []jamfhttp.Option{
		jamfhttp.WithLogger(cfg.Logger),
		jamfhttp.WithTransport(transport),
		jamfhttp.WithTimeout(cfg.Session.RequestTimeout),
		jamfhttp.WithUserAgent(cfg.Session.UserAgent),
		jamfhttp.WithMetrics(metrics),
	}

	if cfg.Debug {
		httpOpts = append(httpOpts, jamfhttp.WithDebug(true))
	}

	if jar != nil {
		httpOpts = append(httpOpts, jamfhttp.WithCookieJar(jar))
	}

	if cfg.Interceptors != nil {
		httpOpts = append(httpOpts, jamfhttp.WithInterceptors(cfg.Interceptors))
	}

	if cfg.RetryMax > 0 {
		retryWaitMin := constants.DefaultRetryWaitMin
		retryWaitMax := constants.DefaultRetryWaitMax

		if cfg.RetryWaitMin > 0 {
			retryWaitMin = cfg.RetryWaitMin
		}

		if cfg.RetryWaitMax > 0 {
			retryWaitMax = cfg.RetryWaitMax
		}

		httpOpts = append(httpOpts, jamfhttp.WithRetryConfig(cfg.RetryMax, retryWaitMin, retryWaitMax))
	}

	return httpOpts
}

func newDispatcher(model schedulingModel, session jamf.SessionConfig, logger jamf.Logger, metrics *jamf.Metrics) *jamf.Dispatcher {
	dispatchOpts := []jamf.DispatcherOption{
		jamf.WithDispatchLogger(logger),
		jamf.WithDispatchMetrics(metrics),
	}

	if model == modelTask {
		return jamf.NewTaskDispatcher(session, dispatchOpts...)
	}

	return jamf.NewPoolDispatcher(session, dispatchOpts...)
}

// ProAPIRequest implements jamf.Requester.ProAPIRequest.
func (c *Client) ProAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) (*jamf.Response, error) {
	options := jamf.ApplyRequestOptions(opts...)

	return c.do(ctx, "ProAPIRequest", method, constants.ProAPIPrefix+strings.TrimPrefix(resourcePath, "/"), options)
}

// ClassicAPIRequest implements jamf.Requester.ClassicAPIRequest. Bodies are
// sent as XML; responses are requested as JSON.
func (c *Client) ClassicAPIRequest(ctx context.Context, method, resourcePath string, opts ...jamf.RequestOption) (*jamf.Response, error) {
	options := jamf.ApplyRequestOptions(opts...)

	if options.RawBody == nil && options.Body != nil {
		data, err := xml.Marshal(options.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal classic request body: %w", err)
		}

		options.RawBody = data
		options.Body = nil
	}

	if options.RawBody != nil && options.ContentType == "" {
		options.ContentType = "application/xml"
	}

	return c.do(ctx, "ClassicAPIRequest", method, constants.ClassicAPIPrefix+strings.TrimPrefix(resourcePath, "/"), options)
}

func (c *Client) do(ctx context.Context, subsystem, method, path string, options jamf.RequestOptions) (*jamf.Response, error) {
	c.logger.Debug(subsystem, map[string]interface{}{
		"method": method,
		"path":   path,
	})

	return c.httpClient.Do(ctx, &jamfhttp.Request{
		Method:      method,
		Path:        path,
		Query:       options.Query,
		Body:        options.Body,
		RawBody:     options.RawBody,
		ContentType: options.ContentType,
		Headers:     options.Headers,
		Timeout:     options.Timeout,
	})
}

// AccessToken implements jamf.Client.AccessToken.
func (c *Client) AccessToken(ctx context.Context) (jamf.AccessToken, error) {
	return c.tokenSource.GetToken(ctx)
}

// Dispatcher implements jamf.Client.Dispatcher.
func (c *Client) Dispatcher() *jamf.Dispatcher {
	return c.dispatcher
}

// Packages implements jamf.Client.Packages.
func (c *Client) Packages() jamf.PackagesClient {
	return c.packages
}

// JCDS2 implements jamf.Client.JCDS2.
func (c *Client) JCDS2() jamf.TransferEngine {
	return c.jcds2
}

// Session implements jamf.Client.Session.
func (c *Client) Session() jamf.SessionConfig {
	return c.session
}

// BaseURL returns "<scheme>://<server>:<port>".
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Metrics returns the client's collectors, nil when none were registered.
func (c *Client) Metrics() *jamf.Metrics {
	return c.metrics
}

// Close releases pooled connections. It is safe to call more than once.
func (c *Client) Close() error {
	return c.httpClient.Close()
}

var _ jamf.Client = (*Client)(nil)
