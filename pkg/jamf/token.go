package jamf

import (
	"context"
	"strings"
	"time"
)

// TokenKind distinguishes API client tokens from user session tokens.
type TokenKind string

const (
	// TokenKindService is issued to an API client via client credentials.
	TokenKindService TokenKind = "service"
	// TokenKindUser is issued to a Jamf Pro account via basic credentials.
	TokenKindUser TokenKind = "user"
)

// AccessToken is an immutable bearer credential. ExpiresAt is absolute and
// stored in UTC; a zero ExpiresAt means the token never expires.
type AccessToken struct {
	Kind      TokenKind `json:"kind"            yaml:"kind"`
	Value     string    `json:"value"           yaml:"value"`
	ExpiresAt time.Time `json:"expires_at"      yaml:"expires_at"`
	Scope     string    `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// NewAccessToken builds a token, normalizing the expiry to UTC.
func NewAccessToken(kind TokenKind, value string, expiresAt time.Time, scope string) AccessToken {
	if !expiresAt.IsZero() {
		expiresAt = expiresAt.UTC()
	}

	return AccessToken{
		Kind:      kind,
		Value:     value,
		ExpiresAt: expiresAt,
		Scope:     scope,
	}
}

// IsZero reports whether the token is empty.
func (t AccessToken) IsZero() bool {
	return t.Value == ""
}

// ExpiresWithin reports whether the token is empty or expires within margin of now.
func (t AccessToken) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if t.IsZero() {
		return true
	}

	if t.ExpiresAt.IsZero() {
		return false
	}

	return !now.Add(margin).Before(t.ExpiresAt)
}

// Expired reports whether the token is past its expiry.
func (t AccessToken) Expired(now time.Time) bool {
	return t.ExpiresWithin(0, now)
}

// Remaining returns the time left before expiry, zero if already expired.
func (t AccessToken) Remaining(now time.Time) time.Duration {
	if t.ExpiresAt.IsZero() {
		return 0
	}

	remaining := t.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}

	return remaining
}

// Scopes splits the space separated scope string.
func (t AccessToken) Scopes() []string {
	return strings.Fields(t.Scope)
}

// CredentialsProvider produces a fresh access token on demand. Providers are
// stateless producers: they hold only what they were constructed with and
// never cache the tokens they return.
type CredentialsProvider interface {
	RefreshToken(ctx context.Context) (AccessToken, error)
}

// AsyncCredentialsProvider is implemented by providers with a native
// non-blocking refresh. Clients using the cooperative scheduling model call it
// instead of RefreshToken; providers without it are run on their own goroutine.
type AsyncCredentialsProvider interface {
	CredentialsProvider
	RefreshTokenAsync(ctx context.Context) *Future[AccessToken]
}

// TokenRenewer is implemented by providers that can extend a still-valid
// token instead of issuing a new one.
type TokenRenewer interface {
	RenewToken(ctx context.Context, current AccessToken) (AccessToken, error)
}

// CredentialsProviderFunc adapts a function to CredentialsProvider.
type CredentialsProviderFunc func(ctx context.Context) (AccessToken, error)

// RefreshToken calls f.
func (f CredentialsProviderFunc) RefreshToken(ctx context.Context) (AccessToken, error) {
	return f(ctx)
}

// RefreshAsync runs the provider's cooperative refresh if it has one,
// otherwise it runs the blocking refresh on its own goroutine.
func RefreshAsync(ctx context.Context, provider CredentialsProvider) *Future[AccessToken] {
	if asyncProvider, ok := provider.(AsyncCredentialsProvider); ok {
		return asyncProvider.RefreshTokenAsync(ctx)
	}

	return Go(ctx, provider.RefreshToken)
}
