package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
	"github.com/fivetwenty-io/jamfpro/pkg/jamfclient"
)

// Output formats.
const (
	OutputFormatJSON = constants.FormatJSON
	OutputFormatYAML = constants.FormatYAML

	defaultJSONIndent = 2
)

// writeOutput renders v as JSON or YAML, or calls table for the table format.
func writeOutput(w io.Writer, v interface{}, table func(*tablewriter.Table)) error {
	switch format := viper.GetString("output"); format {
	case OutputFormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", strings.Repeat(" ", defaultJSONIndent))

		return encoder.Encode(v)
	case OutputFormatYAML:
		encoder := yaml.NewEncoder(w)

		err := encoder.Encode(v)
		if err != nil {
			return err
		}

		return encoder.Close()
	case "", constants.FormatTable:
		t := tablewriter.NewWriter(w)
		table(t)

		err := t.Render()
		if err != nil {
			return fmt.Errorf("failed to render table: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedOutputFormat, format)
	}
}

// newLogger builds the CLI logger. Output is human readable on a terminal.
func newLogger() jamf.Logger {
	level := jamf.LevelWarn
	if viper.GetBool("verbose") || viper.GetBool("debug") {
		level = jamf.LevelDebug
	}

	return jamf.NewLogger(jamf.LogConfig{
		Level:  level,
		Pretty: term.IsTerminal(int(os.Stderr.Fd())),
		Output: os.Stderr,
	}, "jamf-cli")
}

// readPassword prompts for a password on the terminal.
func readPassword(username string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", constants.ErrNoCredentials
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", username)

	password, err := term.ReadPassword(int(os.Stdin.Fd()))

	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(password), nil
}

// buildClientConfig turns the CLI configuration into a client configuration.
// Secrets that are never persisted come from the environment.
func buildClientConfig(config *Config) (*jamf.Config, error) {
	if config.Server == "" {
		return nil, constants.ErrNoServerConfigured
	}

	session := jamf.DefaultSessionConfig()
	session.VerifyTLS = config.VerifyTLS && !viper.GetBool("skip_ssl_validation")
	session.CACertBundle = config.CACertBundle

	if config.MaxConcurrency > 0 {
		session.MaxConcurrency = config.MaxConcurrency
	}

	if config.RequestTimeout > 0 {
		session.RequestTimeout = config.RequestTimeout
	}

	interceptors := jamf.NewInterceptorChain()
	interceptors.AddRequestInterceptor(jamf.RequestIDInterceptor())

	if config.RateLimit > 0 {
		interceptors.AddRequestInterceptor(jamf.RateLimitInterceptor(config.RateLimit, int(config.RateLimit)))
	}

	clientConfig := &jamf.Config{
		Server:       config.Server,
		Port:         config.Port,
		Session:      session,
		ClientID:     config.ClientID,
		ClientSecret: viper.GetString("client_secret"),
		Username:     config.Username,
		Password:     viper.GetString("password"),
		AccessToken:  viper.GetString("access_token"),
		RetryMax:     config.RetryMax,
		Debug:        viper.GetBool("debug"),
		Logger:       newLogger(),
		Interceptors: interceptors,
	}

	if config.ClientSecret != "" && clientConfig.ClientSecret == "" {
		clientConfig.ClientSecret = config.ClientSecret
	}

	return clientConfig, nil
}

// clientSession bundles a client with what must be released after use.
type clientSession struct {
	client  jamf.Client
	metrics *prometheus.Registry
	cache   *jamf.NATSKVCache
}

func (s *clientSession) Close() {
	_ = s.client.Close()

	if viper.GetBool("verbose") {
		s.logMetrics(newLogger())
	}

	if s.cache != nil {
		s.cache.Close()
	}
}

// logMetrics logs the counters collected during the command.
func (s *clientSession) logMetrics(logger jamf.Logger) {
	families, err := s.metrics.Gather()
	if err != nil {
		logger.Warn("Failed to gather metrics", map[string]interface{}{"error": err.Error()})

		return
	}

	fields := make(map[string]interface{}, len(families))

	for _, family := range families {
		var total float64

		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				total += counter.GetValue()
			}
		}

		if total > 0 {
			fields[family.GetName()] = total
		}
	}

	logger.Info("Client metrics", fields)
}

// tokenCacheConfig resolves the token_cache setting. Without one, tokens are
// shared through NATS when a URL is configured and not persisted otherwise.
func tokenCacheConfig(config *Config) *jamf.CacheConfig {
	cacheType := jamf.CacheType(config.TokenCache)
	if cacheType == "" {
		cacheType = jamf.CacheTypeNone
		if config.NATSURL != "" {
			cacheType = jamf.CacheTypeNATS
		}
	}

	cacheConfig := &jamf.CacheConfig{Type: cacheType, MaxSize: constants.DefaultCacheSize}
	if config.NATSURL != "" {
		cacheConfig.NATS = &jamf.NATSKVConfig{URL: config.NATSURL}
	}

	return cacheConfig
}

// newTokenCache opens the configured token cache. A NATS bucket is fronted by
// a process-local memory cache and returned separately so it can be closed.
func newTokenCache(config *Config) (jamf.Cache, *jamf.NATSKVCache, error) {
	cache, err := jamf.NewCacheFromConfig(tokenCacheConfig(config))
	if err != nil {
		return nil, nil, err
	}

	shared, ok := cache.(*jamf.NATSKVCache)
	if !ok {
		return cache, nil, nil
	}

	return jamf.NewCacheChain(jamf.NewMemoryCache(constants.DefaultCacheSize), shared), shared, nil
}

// newClient creates a client from the current configuration, prompting for
// a password when a username has none.
func newClient(ctx context.Context) (*clientSession, error) {
	config := loadConfig()

	clientConfig, err := buildClientConfig(config)
	if err != nil {
		return nil, err
	}

	if clientConfig.Username != "" && clientConfig.Password == "" && clientConfig.ClientID == "" {
		clientConfig.Password, err = readPassword(clientConfig.Username)
		if err != nil {
			return nil, err
		}
	}

	session := &clientSession{metrics: prometheus.NewRegistry()}
	clientConfig.MetricsRegisterer = session.metrics

	clientConfig.TokenCache, session.cache, err = newTokenCache(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open token cache: %w", err)
	}

	session.client, err = jamfclient.New(ctx, clientConfig)
	if err != nil {
		if session.cache != nil {
			session.cache.Close()
		}

		return nil, err
	}

	return session, nil
}

// formatExpiry renders an expiry time relative to now.
func formatExpiry(expiresAt time.Time, now time.Time) string {
	if expiresAt.IsZero() {
		return "never"
	}

	remaining := expiresAt.Sub(now).Round(time.Second)
	if remaining <= 0 {
		return "expired " + expiresAt.Local().Format(time.RFC3339)
	}

	return fmt.Sprintf("%s (in %s)", expiresAt.Local().Format(time.RFC3339), remaining)
}

// maskSecret hides all but the first few characters of a secret.
func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}

	if len(secret) <= constants.TokenPreviewLength {
		return constants.MaskedSecret
	}

	return secret[:constants.TokenPreviewLength] + constants.MaskedSecret
}

// formatBytes renders a byte count in binary units.
func formatBytes(n int64) string {
	const unit = 1024

	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
