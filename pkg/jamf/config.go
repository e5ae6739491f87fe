package jamf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/prometheus/client_golang/prometheus"
)

// SessionConfig holds the per-client tuning values. It is read at call time
// and never mutated after the client is constructed.
type SessionConfig struct {
	// RequestTimeout bounds every individual HTTP request. Zero disables it.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
	// MaxConcurrency is the hard cap on in-flight handler invocations and the
	// size of the connection pool.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// VerifyTLS disables certificate verification when false.
	VerifyTLS bool `json:"verify_tls" yaml:"verify_tls"`
	// CollectErrors makes dispatches capture failures per position instead of
	// failing fast.
	CollectErrors bool `json:"collect_errors" yaml:"collect_errors"`
	// Scheme is "https" unless talking to a test server.
	Scheme string `json:"scheme" yaml:"scheme"`
	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	// CACertBundle is a PEM file appended to the system roots.
	CACertBundle string `json:"ca_cert_bundle,omitempty" yaml:"ca_cert_bundle,omitempty"`
	// CookieFile is a Netscape cookie file loaded into the client's cookie jar.
	CookieFile string `json:"cookie_file,omitempty" yaml:"cookie_file,omitempty"`
}

// DefaultSessionConfig returns the default session configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		RequestTimeout: constants.DefaultRequestTimeout,
		MaxConcurrency: constants.DefaultMaxConcurrency,
		VerifyTLS:      true,
		CollectErrors:  false,
		Scheme:         constants.DefaultScheme,
		UserAgent:      DefaultUserAgent(),
	}
}

// DefaultUserAgent returns the User-Agent sent when none is configured.
func DefaultUserAgent() string {
	return constants.UserAgentPrefix + "/" + constants.Version
}

// Validate checks the configuration and returns a *ConfigurationError on the first invalid field.
func (s SessionConfig) Validate() error {
	if s.MaxConcurrency <= 0 {
		return &ConfigurationError{Field: "max_concurrency", Err: fmt.Errorf("%w: got %d", ErrInvalidMaxConcurrency, s.MaxConcurrency)}
	}

	if s.RequestTimeout < 0 {
		return &ConfigurationError{Field: "request_timeout", Err: ErrInvalidTimeout}
	}

	switch s.Scheme {
	case "", "https", "http":
	default:
		return &ConfigurationError{Field: "scheme", Err: fmt.Errorf("%w: %s", ErrUnsupportedScheme, s.Scheme)}
	}

	if s.CACertBundle != "" {
		_, err := os.Stat(s.CACertBundle)
		if err != nil {
			return &ConfigurationError{Field: "ca_cert_bundle", Err: err}
		}
	}

	if s.CookieFile != "" {
		_, err := os.Stat(s.CookieFile)
		if err != nil {
			return &ConfigurationError{Field: "cookie_file", Err: err}
		}
	}

	return nil
}

// Config represents client configuration for building a Jamf Pro client.
//
// # Authentication precedence
//
// The following precedence is applied by the concrete client implementation
// (see pkg/jamfclient and internal/client):
//  1. CredentialsProvider: if set, it is the only source of tokens.
//  2. ClientID/ClientSecret: API client credentials exchanged at
//     /api/oauth/token (OAuth2 client_credentials grant).
//  3. Username/Password: basic credentials exchanged at /api/v1/auth/token;
//     tokens nearing expiry are renewed through /api/v1/auth/keep-alive.
//  4. AccessToken: used as a static bearer token that cannot be refreshed.
//  5. No credentials: construction fails with a ConfigurationError.
//
// # Timeouts, retries, and TLS
//
// Session.RequestTimeout applies to each request, never to a whole dispatch
// or pagination run. Retries are disabled unless RetryMax is set; a 401 is
// never retried by the transport because the executor performs exactly one
// forced token refresh itself.
type Config struct {
	// Server is the Jamf Pro host, e.g. "example.jamfcloud.com". A scheme or
	// trailing slash is tolerated and stripped.
	Server string
	// Port defaults to 443.
	Port int
	// Session holds the tuning values. The zero value is replaced by DefaultSessionConfig.
	Session SessionConfig

	// ClientID is the API client ID for the client_credentials grant.
	ClientID string
	// ClientSecret is the API client secret used with ClientID.
	ClientSecret string
	// Username is a Jamf Pro account name for basic token exchange.
	Username string
	// Password is the password used with Username.
	Password string
	// AccessToken is used verbatim as a bearer token when nothing else is set.
	AccessToken string
	// CredentialsProvider overrides every other credential field.
	CredentialsProvider CredentialsProvider
	// TokenCache persists issued tokens so other processes can reuse them.
	TokenCache Cache

	// RetryMax enables transport retries for 5xx/429 and connection errors.
	RetryMax int
	// RetryWaitMin is the minimum backoff between retries.
	RetryWaitMin time.Duration
	// RetryWaitMax is the maximum backoff between retries.
	RetryWaitMax time.Duration

	// Debug enables request/response logging.
	Debug bool
	// Logger receives structured logs. Defaults to a no-op logger.
	Logger Logger
	// Interceptors run around every request.
	Interceptors *InterceptorChain
	// MetricsRegisterer receives the client's Prometheus collectors. Nil
	// keeps the collectors unregistered.
	MetricsRegisterer prometheus.Registerer
}

// BaseURL composes "<scheme>://<server>:<port>" from the configuration.
func (c *Config) BaseURL() (string, error) {
	if c == nil {
		return "", ErrConfigRequired
	}

	server := strings.TrimSpace(c.Server)
	server = strings.TrimPrefix(server, "https://")
	server = strings.TrimPrefix(server, "http://")
	server = strings.TrimSuffix(server, "/")

	if server == "" {
		return "", ErrServerRequired
	}

	scheme := c.Session.Scheme
	if scheme == "" {
		scheme = constants.DefaultScheme
	}

	port := c.Port
	if port == 0 {
		port = constants.DefaultPort
	}

	base := &url.URL{Scheme: scheme, Host: server + ":" + strconv.Itoa(port)}

	return base.String(), nil
}

// Normalize fills unset fields with their defaults and validates the session.
func (c *Config) Normalize() error {
	if c == nil {
		return ErrConfigRequired
	}

	if c.Session == (SessionConfig{}) {
		c.Session = DefaultSessionConfig()
	}

	if c.Session.Scheme == "" {
		c.Session.Scheme = constants.DefaultScheme
	}

	if c.Session.UserAgent == "" {
		c.Session.UserAgent = DefaultUserAgent()
	}

	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c.Session.Validate()
}
