// Package jamfclient provides the main entry point for creating Jamf Pro API clients
package jamfclient

import (
	"context"
	"fmt"

	"github.com/fivetwenty-io/jamfpro/internal/client"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Option configures client parts that jamf.Config does not cover.
type Option = client.Option

// S3API is the subset of the AWS S3 client used by JCDS uploads.
type S3API = client.S3API

// S3ClientFactory builds an S3 client from the temporary credentials of one upload.
type S3ClientFactory = client.S3ClientFactory

// WithS3ClientFactory replaces how S3 clients are built for JCDS uploads.
func WithS3ClientFactory(factory S3ClientFactory) Option {
	return client.WithS3ClientFactory(factory)
}

// New creates a blocking Jamf Pro client.
func New(ctx context.Context, config *jamf.Config, opts ...Option) (jamf.Client, error) {
	c, err := client.New(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new client: %w", err)
	}

	return c, nil
}

// NewAsync creates a client whose operations return futures.
func NewAsync(ctx context.Context, config *jamf.Config, opts ...Option) (jamf.AsyncClient, error) {
	c, err := client.NewAsync(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create new async client: %w", err)
	}

	return c, nil
}

// NewFromEnv creates a client configured from the JAMF_* environment variables.
func NewFromEnv(ctx context.Context, opts ...Option) (jamf.Client, error) {
	config, err := jamf.CredentialsFromEnv()
	if err != nil {
		return nil, err
	}

	return New(ctx, config, opts...)
}

// NewWithToken creates a client that sends a fixed bearer token.
func NewWithToken(ctx context.Context, server, token string) (jamf.Client, error) {
	return New(ctx, &jamf.Config{
		Server:      server,
		AccessToken: token,
	})
}

// NewWithClientCredentials creates a client using an API client ID and secret.
func NewWithClientCredentials(ctx context.Context, server, clientID, clientSecret string) (jamf.Client, error) {
	return New(ctx, &jamf.Config{
		Server:       server,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})
}

// NewWithPassword creates a client using username/password authentication.
func NewWithPassword(ctx context.Context, server, username, password string) (jamf.Client, error) {
	return New(ctx, &jamf.Config{
		Server:   server,
		Username: username,
		Password: password,
	})
}

// NewWithProvider creates a client that takes every token from provider.
func NewWithProvider(ctx context.Context, server string, provider jamf.CredentialsProvider) (jamf.Client, error) {
	return New(ctx, &jamf.Config{
		Server:              server,
		CredentialsProvider: provider,
	})
}
