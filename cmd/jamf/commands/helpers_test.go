package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// resetViper isolates a test from the global viper instance.
func resetViper(t *testing.T) {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestWriteOutput(t *testing.T) { //nolint:funlen // Test functions can be longer for comprehensive testing
	info := VersionInfo{Version: "1.2.3", Commit: "abc123", Built: "today", UserAgent: "jamf-go/1.2.3"}
	table := func(table *tablewriter.Table) {
		table.Header("Property", "Value")
		_ = table.Append("Version", info.Version)
	}

	t.Run("json", func(t *testing.T) {
		resetViper(t)
		viper.Set("output", OutputFormatJSON)

		var buf bytes.Buffer

		require.NoError(t, writeOutput(&buf, info, table))

		var decoded VersionInfo

		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, info, decoded)
		assert.Contains(t, buf.String(), `  "user_agent": "jamf-go/1.2.3"`)
	})

	t.Run("yaml", func(t *testing.T) {
		resetViper(t)
		viper.Set("output", OutputFormatYAML)

		var buf bytes.Buffer

		require.NoError(t, writeOutput(&buf, info, table))

		var decoded VersionInfo

		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, info, decoded)
	})

	t.Run("table is the default", func(t *testing.T) {
		resetViper(t)

		var buf bytes.Buffer

		require.NoError(t, writeOutput(&buf, info, table))
		assert.Contains(t, buf.String(), "1.2.3")
		assert.Contains(t, strings.ToUpper(buf.String()), "PROPERTY")
	})

	t.Run("unsupported format", func(t *testing.T) {
		resetViper(t)
		viper.Set("output", "xml")

		err := writeOutput(&bytes.Buffer{}, info, table)
		require.ErrorIs(t, err, constants.ErrUnsupportedOutputFormat)
	})
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "empty", secret: "", want: ""},
		{name: "short", secret: "abc", want: "***"},
		{name: "preview length", secret: "12345678", want: "***"},
		{name: "long", secret: "eyJhbGciOiJIUzI1NiJ9", want: "eyJhbGci***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, maskSecret(tt.secret))
		})
	}
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int64
		want string
	}{
		{n: 0, want: "0 B"},
		{n: 1023, want: "1023 B"},
		{n: 1024, want: "1.0 KiB"},
		{n: 1536, want: "1.5 KiB"},
		{n: 45 << 20, want: "45.0 MiB"},
		{n: 1 << 30, want: "1.0 GiB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, formatBytes(tt.n))
		})
	}
}

func TestFormatExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	assert.Equal(t, "never", formatExpiry(time.Time{}, now))
	assert.True(t, strings.HasPrefix(formatExpiry(now.Add(-time.Minute), now), "expired "))
	assert.True(t, strings.HasSuffix(formatExpiry(now.Add(20*time.Minute), now), "(in 20m0s)"))
}

func TestBuildClientConfig(t *testing.T) { //nolint:funlen // Test functions can be longer for comprehensive testing
	t.Run("requires a server", func(t *testing.T) {
		resetViper(t)

		_, err := buildClientConfig(&Config{})
		require.ErrorIs(t, err, constants.ErrNoServerConfigured)
	})

	t.Run("maps settings onto the session", func(t *testing.T) {
		resetViper(t)
		viper.Set("client_secret", "env-secret")
		viper.Set("debug", true)

		clientConfig, err := buildClientConfig(&Config{
			Server:         "example.jamfcloud.com",
			Port:           8443,
			ClientID:       "client-id",
			ClientSecret:   "file-secret",
			MaxConcurrency: 3,
			RequestTimeout: 30 * time.Second,
			RetryMax:       2,
			RateLimit:      5,
			VerifyTLS:      true,
		})
		require.NoError(t, err)

		assert.Equal(t, "example.jamfcloud.com", clientConfig.Server)
		assert.Equal(t, 8443, clientConfig.Port)
		assert.Equal(t, "env-secret", clientConfig.ClientSecret)
		assert.Equal(t, 3, clientConfig.Session.MaxConcurrency)
		assert.Equal(t, 30*time.Second, clientConfig.Session.RequestTimeout)
		assert.True(t, clientConfig.Session.VerifyTLS)
		assert.Equal(t, 2, clientConfig.RetryMax)
		assert.True(t, clientConfig.Debug)
		assert.NotNil(t, clientConfig.Logger)

		assert.Equal(t, 2, clientConfig.Interceptors.Len())

		req := &jamf.RequestInfo{Method: http.MethodGet, Path: "/api/v1/packages"}
		require.NoError(t, clientConfig.Interceptors.ExecuteRequestInterceptors(context.Background(), req))
		assert.NotEmpty(t, req.Headers.Get(jamf.RequestIDHeader))
	})

	t.Run("stored secret is the fallback", func(t *testing.T) {
		resetViper(t)

		clientConfig, err := buildClientConfig(&Config{
			Server:       "example.jamfcloud.com",
			ClientID:     "client-id",
			ClientSecret: "file-secret",
			VerifyTLS:    true,
		})
		require.NoError(t, err)
		assert.Equal(t, "file-secret", clientConfig.ClientSecret)
		assert.Equal(t, 1, clientConfig.Interceptors.Len())
	})

	t.Run("skip ssl validation wins", func(t *testing.T) {
		resetViper(t)
		viper.Set("skip_ssl_validation", true)

		clientConfig, err := buildClientConfig(&Config{Server: "example.jamfcloud.com", VerifyTLS: true})
		require.NoError(t, err)
		assert.False(t, clientConfig.Session.VerifyTLS)
	})
}

// newTestServer serves the token and packages endpoints over TLS and points
// the CLI configuration at it.
func newTestServer(t *testing.T, packages []jamf.Package) *atomic.Int32 {
	t.Helper()

	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "cli-token-0123456789",
			"token_type":   "Bearer",
			"expires_in":   1199,
		})
	})
	mux.HandleFunc("GET /api/v1/packages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cli-token-0123456789", r.Header.Get("Authorization"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("page-size"))

		start := min(page*size, len(packages))
		end := min(start+size, len(packages))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jamf.ListResponse[jamf.Package]{
			TotalCount: len(packages),
			Results:    packages[start:end],
		})
	})
	mux.HandleFunc("GET /api/v1/packages/{id}", func(w http.ResponseWriter, r *http.Request) {
		for _, pkg := range packages {
			if pkg.ID == r.PathValue("id") {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(pkg)

				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"httpStatus":404,"errors":[{"code":"NOT_FOUND","description":"not found"}]}`))
	})

	server := httptest.NewTLSServer(mux)
	t.Cleanup(server.Close)

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	port, err := strconv.Atoi(serverURL.Port())
	require.NoError(t, err)

	viper.Set("server", serverURL.Hostname())
	viper.Set("port", port)
	viper.Set("client_id", "client-id")
	viper.Set("client_secret", "client-secret")
	viper.Set("skip_ssl_validation", true)
	viper.Set("retry_max", 0)

	return &tokenCalls
}

type capturingLogger struct {
	jamf.NopLogger

	fields map[string]interface{}
}

func (l *capturingLogger) Info(_ string, fields map[string]interface{}) {
	l.fields = fields
}

func TestClientSession_LogMetrics(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics := jamf.NewMetrics(registry)

	metrics.ObserveRequest(http.MethodGet, http.StatusOK, time.Millisecond)
	metrics.ObserveRequest(http.MethodGet, http.StatusNotFound, time.Millisecond)
	metrics.Transferred("download", 2048)

	logger := &capturingLogger{}
	session := &clientSession{metrics: registry}
	session.logMetrics(logger)

	assert.InDelta(t, 2.0, logger.fields["jamf_requests_total"], 0.0001)
	assert.InDelta(t, 2048.0, logger.fields["jamf_transfer_bytes_total"], 0.0001)
	assert.NotContains(t, logger.fields, "jamf_token_refreshes_total")
}

func TestNewTokenCache(t *testing.T) { //nolint:funlen // Test functions can be longer for comprehensive testing
	t.Parallel()

	t.Run("nats url selects the shared bucket", func(t *testing.T) {
		t.Parallel()

		cacheConfig := tokenCacheConfig(&Config{NATSURL: "nats://127.0.0.1:4222"})
		assert.Equal(t, jamf.CacheTypeNATS, cacheConfig.Type)
		require.NotNil(t, cacheConfig.NATS)
		assert.Equal(t, "nats://127.0.0.1:4222", cacheConfig.NATS.URL)

		cacheConfig = tokenCacheConfig(&Config{NATSURL: "nats://127.0.0.1:4222", TokenCache: "memory"})
		assert.Equal(t, jamf.CacheTypeMemory, cacheConfig.Type)
	})

	tests := []struct {
		name    string
		config  *Config
		check   func(t *testing.T, cache jamf.Cache)
		wantErr error
	}{
		{
			name:   "none by default",
			config: &Config{},
			check: func(t *testing.T, cache jamf.Cache) {
				t.Helper()
				assert.IsType(t, &jamf.NoOpCache{}, cache)
			},
		},
		{
			name:   "memory",
			config: &Config{TokenCache: "memory"},
			check: func(t *testing.T, cache jamf.Cache) {
				t.Helper()
				assert.IsType(t, &jamf.MemoryCache{}, cache)

				entry := &jamf.CacheEntry{Data: []byte("token"), ExpiresAt: time.Now().Add(time.Minute)}
				require.NoError(t, cache.Set(context.Background(), "key", entry))
				assert.True(t, cache.Has(context.Background(), "key"))
			},
		},
		{
			name:    "nats needs a url",
			config:  &Config{TokenCache: "nats"},
			wantErr: jamf.ErrNATSConfigRequired,
		},
		{
			name:    "unsupported type",
			config:  &Config{TokenCache: "redis"},
			wantErr: jamf.ErrUnsupportedCacheType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cache, shared, err := newTokenCache(tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Nil(t, shared)
			tt.check(t, cache)
		})
	}
}

func TestNewClient_TokenCache(t *testing.T) {
	resetViper(t)
	newTestServer(t, testPackages(1))
	viper.Set("token_cache", "memory")

	session, err := newClient(context.Background())
	require.NoError(t, err)

	defer session.Close()

	token, err := session.client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cli-token-0123456789", token.Value)
	assert.Nil(t, session.cache)
}
