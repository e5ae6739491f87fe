package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrMissingClientCredentials = errors.New("client id and client secret are required")
	ErrMissingUserCredentials   = errors.New("username and password are required")
	ErrTokenEndpoint            = errors.New("token endpoint returned an error")
)

// ClientCredentialsProvider exchanges an API client ID and secret for a
// service token at /api/oauth/token.
type ClientCredentialsProvider struct {
	config     clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentialsProvider creates a provider for the server at baseURL.
// httpClient carries TLS and proxy settings; nil uses a short-timeout default.
func NewClientCredentialsProvider(baseURL, clientID, clientSecret string, httpClient *http.Client) (*ClientCredentialsProvider, error) {
	if clientID == "" || clientSecret == "" {
		return nil, &jamf.ConfigurationError{Field: "client_credentials", Err: ErrMissingClientCredentials}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	return &ClientCredentialsProvider{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     strings.TrimSuffix(baseURL, "/") + constants.APIPathOAuthToken,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}, nil
}

// RefreshToken requests a new service token.
func (p *ClientCredentialsProvider) RefreshToken(ctx context.Context) (jamf.AccessToken, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.Token(ctx)
	if err != nil {
		authErr := &jamf.AuthenticationError{
			Op:  "client_credentials",
			Err: fmt.Errorf("%w: %w", jamf.ErrTokenRefreshFailed, err),
		}

		retrieveErr := &oauth2.RetrieveError{}
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}

		return jamf.AccessToken{}, authErr
	}

	scope, _ := token.Extra("scope").(string)

	return jamf.NewAccessToken(jamf.TokenKindService, token.AccessToken, token.Expiry, scope), nil
}

// userTokenResponse is the body of /api/v1/auth/token and /api/v1/auth/keep-alive.
type userTokenResponse struct {
	Token   string `json:"token"`
	Expires string `json:"expires"`
}

// UserCredentialsProvider exchanges a Jamf Pro username and password for a
// user token and extends live tokens through the keep-alive endpoint.
type UserCredentialsProvider struct {
	tokenURL     string
	keepAliveURL string
	username     string
	password     string
	userAgent    string
	httpClient   *http.Client
}

// NewUserCredentialsProvider creates a provider for the server at baseURL.
func NewUserCredentialsProvider(baseURL, username, password string, httpClient *http.Client) (*UserCredentialsProvider, error) {
	if username == "" || password == "" {
		return nil, &jamf.ConfigurationError{Field: "user_credentials", Err: ErrMissingUserCredentials}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &UserCredentialsProvider{
		tokenURL:     baseURL + constants.APIPathUserToken,
		keepAliveURL: baseURL + constants.APIPathKeepAlive,
		username:     username,
		password:     password,
		userAgent:    jamf.DefaultUserAgent(),
		httpClient:   httpClient,
	}, nil
}

// RefreshToken requests a new user token with basic credentials.
func (p *UserCredentialsProvider) RefreshToken(ctx context.Context) (jamf.AccessToken, error) {
	return p.exchange(ctx, "basic_auth", p.tokenURL, func(req *http.Request) {
		req.SetBasicAuth(p.username, p.password)
	})
}

// RenewToken extends current through the keep-alive endpoint.
func (p *UserCredentialsProvider) RenewToken(ctx context.Context, current jamf.AccessToken) (jamf.AccessToken, error) {
	return p.exchange(ctx, "keep_alive", p.keepAliveURL, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+current.Value)
	})
}

func (p *UserCredentialsProvider) exchange(ctx context.Context, op, url string, authorize func(*http.Request)) (jamf.AccessToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return jamf.AccessToken{}, fmt.Errorf("creating %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)
	authorize(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return jamf.AccessToken{}, &jamf.AuthenticationError{Op: op, Err: fmt.Errorf("%w: %w", jamf.ErrTokenRefreshFailed, err)}
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return jamf.AccessToken{}, fmt.Errorf("reading %s response: %w", op, err)
	}

	if resp.StatusCode != http.StatusOK {
		return jamf.AccessToken{}, &jamf.AuthenticationError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %s", ErrTokenEndpoint, strings.TrimSpace(string(body))),
		}
	}

	var payload userTokenResponse

	err = json.Unmarshal(body, &payload)
	if err != nil {
		return jamf.AccessToken{}, fmt.Errorf("decoding %s response: %w", op, err)
	}

	expires, err := time.Parse(time.RFC3339Nano, payload.Expires)
	if err != nil {
		return jamf.AccessToken{}, fmt.Errorf("parsing token expiry %q: %w", payload.Expires, err)
	}

	return jamf.NewAccessToken(jamf.TokenKindUser, payload.Token, expires, ""), nil
}

// StaticProvider serves a bearer token supplied by the caller. It cannot
// produce a new one.
type StaticProvider struct {
	token jamf.AccessToken
}

// NewStaticProvider wraps a fixed bearer token that never expires locally.
func NewStaticProvider(value string) *StaticProvider {
	return &StaticProvider{token: jamf.NewAccessToken(jamf.TokenKindUser, value, time.Time{}, "")}
}

// Token returns the wrapped token for seeding a TokenStore.
func (p *StaticProvider) Token() jamf.AccessToken {
	return p.token
}

// RefreshToken always fails: once the server rejects a static token there is
// nothing to replace it with.
func (p *StaticProvider) RefreshToken(context.Context) (jamf.AccessToken, error) {
	return jamf.AccessToken{}, &jamf.AuthenticationError{Op: "refresh", Err: jamf.ErrStaticTokenNoRefresh}
}
