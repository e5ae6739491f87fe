package client

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), nil)
		require.ErrorIs(t, err, jamf.ErrConfigRequired)
	})

	t.Run("missing server", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), &jamf.Config{ClientID: "id", ClientSecret: "secret"})
		require.Error(t, err)
	})

	t.Run("no credentials", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), &jamf.Config{Server: "example.jamfcloud.com"})
		require.ErrorIs(t, err, ErrNoCredentials)

		var configErr *jamf.ConfigurationError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "credentials", configErr.Field)
	})

	t.Run("client secret without id", func(t *testing.T) {
		t.Parallel()

		_, err := New(context.Background(), &jamf.Config{Server: "example.jamfcloud.com", ClientSecret: "secret"})
		require.Error(t, err)
	})

	t.Run("unreadable CA bundle", func(t *testing.T) {
		t.Parallel()

		session := jamf.DefaultSessionConfig()
		session.CACertBundle = filepath.Join(t.TempDir(), "missing.pem")

		_, err := New(context.Background(), &jamf.Config{Server: "example.jamfcloud.com", AccessToken: "abc", Session: session})

		var configErr *jamf.ConfigurationError
		require.ErrorAs(t, err, &configErr)
		assert.Equal(t, "ca_cert_bundle", configErr.Field)
	})

	t.Run("caller config is not modified", func(t *testing.T) {
		t.Parallel()

		config := &jamf.Config{Server: "example.jamfcloud.com", AccessToken: "abc"}

		client, err := New(context.Background(), config)
		require.NoError(t, err)

		assert.Nil(t, config.Logger)
		assert.Equal(t, "https://example.jamfcloud.com:443", client.BaseURL())
		assert.Equal(t, jamf.DefaultSessionConfig().MaxConcurrency, client.Session().MaxConcurrency)
	})
}

func TestNew_CredentialPrecedence(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)

	var providerCalls atomic.Int32

	config := fake.config()
	config.Username = "admin"
	config.Password = "password"
	config.AccessToken = "static-token"
	config.CredentialsProvider = jamf.CredentialsProviderFunc(func(ctx context.Context) (jamf.AccessToken, error) {
		providerCalls.Add(1)

		return jamf.NewAccessToken(jamf.TokenKindService, "provided-token", time.Now().Add(time.Hour), ""), nil
	})

	client, err := New(context.Background(), config)
	require.NoError(t, err)

	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "provided-token", token.Value)
	assert.Equal(t, int32(1), providerCalls.Load())
	assert.Equal(t, int32(0), fake.tokenCalls.Load())

	config.CredentialsProvider = nil

	client, err = New(context.Background(), config)
	require.NoError(t, err)

	token, err = client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.Value, "client credentials come before basic and static credentials")
}

func TestNew_StaticToken(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)

	config := fake.config()
	config.ClientID = ""
	config.ClientSecret = ""
	config.AccessToken = "static-token"

	client, err := New(context.Background(), config)
	require.NoError(t, err)

	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static-token", token.Value)
	assert.Equal(t, int32(0), fake.tokenCalls.Load())
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestClient_Requests(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)
	fake.addPackages(jamf.Package{PackageName: "Firefox", FileName: "Firefox.pkg"})

	client, err := New(context.Background(), fake.config())
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	t.Run("pro API", func(t *testing.T) {
		t.Parallel()

		resp, err := client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var pkg jamf.Package
		require.NoError(t, resp.Decode(&pkg))
		assert.Equal(t, "Firefox.pkg", pkg.FileName)
	})

	t.Run("pro API leading slash", func(t *testing.T) {
		t.Parallel()

		resp, err := client.ProAPIRequest(context.Background(), http.MethodGet, "/v1/packages/1")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("pro API not found", func(t *testing.T) {
		t.Parallel()

		_, err := client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages/999")
		require.Error(t, err)
		assert.True(t, jamf.IsNotFound(err))
	})

	t.Run("classic API", func(t *testing.T) {
		t.Parallel()

		resp, err := client.ClassicAPIRequest(context.Background(), http.MethodGet, "computers/id/1")
		require.NoError(t, err)

		var body struct {
			Computer struct {
				General struct {
					Name string `json:"name"`
				} `json:"general"`
			} `json:"computer"`
		}
		require.NoError(t, resp.Decode(&body))
		assert.Equal(t, "mac-01", body.Computer.General.Name)
	})
}

func TestClient_ClassicXMLBody(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)

	client, err := New(context.Background(), fake.config())
	require.NoError(t, err)

	type computer struct {
		Name string `xml:"general>name"`
	}

	resp, err := client.ClassicAPIRequest(context.Background(), http.MethodPost, "computers/id/0",
		jamf.WithBody(computer{Name: "mac-02"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, err = client.ClassicAPIRequest(context.Background(), http.MethodPut, "computers/id/2",
		jamf.WithRawBody([]byte("<computer/>"), "text/xml"))
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()

	require.Len(t, fake.classicBodies, 2)
	assert.Equal(t, "application/xml <computer><general><name>mac-02</name></general></computer>", fake.classicBodies[0])
	assert.Equal(t, "text/xml <computer/>", fake.classicBodies[1])
}

func TestClient_RefreshesRejectedToken(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)
	fake.rejectTokens["token-1"] = true

	client, err := New(context.Background(), fake.config())
	require.NoError(t, err)

	resp, err := client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(2), fake.tokenCalls.Load())

	token, err := client.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token.Value)
}

func TestClient_TokenCache(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)
	cache := jamf.NewMemoryCache(10)

	config := fake.config()
	config.TokenCache = cache

	first, err := New(context.Background(), config)
	require.NoError(t, err)

	_, err = first.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages")
	require.NoError(t, err)

	second, err := New(context.Background(), config)
	require.NoError(t, err)

	token, err := second.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-1", token.Value)
	assert.Equal(t, int32(1), fake.tokenCalls.Load(), "second client reuses the persisted token")
}

func TestClient_Metrics(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)

	config := fake.config()
	config.MetricsRegisterer = prometheus.NewRegistry()

	client, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, client.Metrics())

	_, err = client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages")
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(client.Metrics().Requests.WithLabelValues(http.MethodGet, "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(client.Metrics().TokenRefreshes.WithLabelValues(string(jamf.TokenKindService))), 0)
}

func TestClient_Dispatcher(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)
	for i := range 5 {
		fake.addPackages(jamf.Package{PackageName: "pkg", FileName: fmt.Sprintf("pkg-%d.pkg", i+1)})
	}

	client, err := New(context.Background(), fake.config())
	require.NoError(t, err)
	assert.Equal(t, jamf.PoolScheduler{}.Model(), client.Dispatcher().Model())

	results, err := jamf.Dispatch(context.Background(), client.Dispatcher(),
		func(ctx context.Context, args jamf.Args[string]) (string, error) {
			pkg, err := client.Packages().Get(ctx, args.Value())
			if err != nil {
				return "", err
			}

			return pkg.FileName, nil
		},
		jamf.PositionalArgs("1", "2", "3", "4", "5"),
	)
	require.NoError(t, err)
	require.Len(t, results, 5)

	for i, result := range results {
		require.NoError(t, result.Err)
		assert.Equal(t, fmt.Sprintf("pkg-%d.pkg", i+1), result.Value)
	}
}

func TestClient_Close(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)

	client, err := New(context.Background(), fake.config())
	require.NoError(t, err)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err = client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages")
	require.ErrorIs(t, err, jamf.ErrClientClosed)
}

//nolint:funlen // Test functions can be longer for comprehensive testing
func TestAsyncClient(t *testing.T) {
	t.Parallel()

	fake := newFakeJamf(t)
	for i := range 250 {
		fake.addPackages(jamf.Package{PackageName: "pkg", FileName: fmt.Sprintf("async-%03d.pkg", i)})
	}

	fake.setFile("Tool.pkg", patternBytes(4096))

	s3fake := newFakeS3()

	client, err := NewAsync(context.Background(), fake.config(), WithS3ClientFactory(s3fake.factory))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, jamf.TaskScheduler{}.Model(), client.Dispatcher().Model())
	assert.Equal(t, jamf.DefaultSessionConfig().MaxConcurrency, client.Session().MaxConcurrency)

	t.Run("futures", func(t *testing.T) {
		t.Parallel()

		tokenFuture := client.AccessToken(context.Background())
		proFuture := client.ProAPIRequest(context.Background(), http.MethodGet, "v1/packages/1")
		classicFuture := client.ClassicAPIRequest(context.Background(), http.MethodGet, "computers/id/1")

		token, err := tokenFuture.Await(context.Background())
		require.NoError(t, err)
		assert.NotEmpty(t, token.Value)

		resp, err := proFuture.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = classicFuture.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	// Runs before the parallel subtests resume, so the upload below cannot
	// add a package mid-traversal.
	t.Run("stream packages", func(t *testing.T) {
		var (
			pages int
			names []string
		)

		for result := range client.StreamPackages(context.Background(), jamf.PaginationOptions{PageSize: 100}) {
			require.NoError(t, result.Err)

			pages++

			for _, pkg := range result.Page.Items {
				names = append(names, pkg.FileName)
			}
		}

		assert.Equal(t, 3, pages)
		require.Len(t, names, 250)
		assert.Equal(t, "async-000.pkg", names[0])
		assert.Equal(t, "async-249.pkg", names[249])
	})

	t.Run("transfers", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		source := filepath.Join(dir, "upload.pkg")
		require.NoError(t, os.WriteFile(source, []byte("package bytes"), 0o600))

		upload, err := client.UploadFile(context.Background(), source).Await(context.Background())
		require.NoError(t, err)
		assert.False(t, upload.Multipart)
		assert.Equal(t, []byte("package bytes"), s3fake.object("jcds-bucket/tenant-123/upload.pkg"))

		path, err := client.DownloadFile(context.Background(), "Tool.pkg", dir).Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "Tool.pkg"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, patternBytes(4096), data)
	})

	t.Run("executor", func(t *testing.T) {
		t.Parallel()

		resp, err := client.Executor().ProAPIRequest(context.Background(), http.MethodGet, "v1/packages/2")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
