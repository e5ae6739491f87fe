package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrEmptyToken = errors.New("provider returned an empty token")
)

// TokenStore owns the current access token of one client and refreshes it
// through a CredentialsProvider. Reads are lock-free with respect to the
// refresh lock; refreshes are serialized and double-checked so concurrent
// callers trigger a single provider call.
type TokenStore struct {
	provider jamf.CredentialsProvider
	locker   Locker
	margin   time.Duration
	now      func() time.Time
	async    bool
	logger   jamf.Logger
	metrics  *jamf.Metrics

	mu    sync.RWMutex
	token jamf.AccessToken
}

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithLocker sets the refresh lock. Defaults to a MutexLocker.
func WithLocker(locker Locker) TokenStoreOption {
	return func(s *TokenStore) {
		s.locker = locker
	}
}

// WithSafetyMargin sets how long before expiry a token counts as stale.
func WithSafetyMargin(margin time.Duration) TokenStoreOption {
	return func(s *TokenStore) {
		s.margin = margin
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenStoreOption {
	return func(s *TokenStore) {
		s.now = now
	}
}

// WithAsyncRefresh makes the store refresh through the provider's cooperative
// path, awaiting it with the caller's ctx.
func WithAsyncRefresh() TokenStoreOption {
	return func(s *TokenStore) {
		s.async = true
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger jamf.Logger) TokenStoreOption {
	return func(s *TokenStore) {
		s.logger = logger
	}
}

// WithStoreMetrics records refreshes on metrics.
func WithStoreMetrics(metrics *jamf.Metrics) TokenStoreOption {
	return func(s *TokenStore) {
		s.metrics = metrics
	}
}

// WithInitialToken seeds the store.
func WithInitialToken(token jamf.AccessToken) TokenStoreOption {
	return func(s *TokenStore) {
		s.token = token
	}
}

// NewTokenStore creates a store backed by provider.
func NewTokenStore(provider jamf.CredentialsProvider, opts ...TokenStoreOption) *TokenStore {
	store := &TokenStore{
		provider: provider,
		locker:   NewMutexLocker(),
		margin:   constants.TokenSafetyMargin,
		now:      time.Now,
		logger:   jamf.NopLogger{},
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Current returns the stored token without refreshing it.
func (s *TokenStore) Current() jamf.AccessToken {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.token
}

// Set replaces the stored token.
func (s *TokenStore) Set(token jamf.AccessToken) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Clear drops the stored token so the next GetToken refreshes.
func (s *TokenStore) Clear() {
	s.Set(jamf.AccessToken{})
}

// Stale reports whether the stored token is missing or inside the safety margin.
func (s *TokenStore) Stale() bool {
	return s.Current().ExpiresWithin(s.margin, s.now())
}

// GetToken returns a token that is valid for at least the safety margin,
// refreshing it first if needed.
func (s *TokenStore) GetToken(ctx context.Context) (jamf.AccessToken, error) {
	token := s.Current()
	if !token.ExpiresWithin(s.margin, s.now()) {
		return token, nil
	}

	return s.refresh(ctx, true, func(current jamf.AccessToken) bool {
		return current.ExpiresWithin(s.margin, s.now())
	})
}

// RefreshToken forces a refresh after the server rejected stale. If another
// caller already replaced stale, the newer token is returned instead. A
// rejected token is never renewed.
func (s *TokenStore) RefreshToken(ctx context.Context, stale string) (jamf.AccessToken, error) {
	return s.refresh(ctx, false, func(current jamf.AccessToken) bool {
		return current.Value == stale || current.ExpiresWithin(s.margin, s.now())
	})
}

func (s *TokenStore) refresh(ctx context.Context, renew bool, needed func(jamf.AccessToken) bool) (jamf.AccessToken, error) {
	err := s.locker.Lock(ctx)
	if err != nil {
		return jamf.AccessToken{}, fmt.Errorf("waiting for token refresh: %w", err)
	}
	defer s.locker.Unlock()

	current := s.Current()
	if !needed(current) {
		return current, nil
	}

	token, err := s.obtain(ctx, current, renew)
	if err != nil {
		authErr := &jamf.AuthenticationError{}
		if errors.As(err, &authErr) {
			return jamf.AccessToken{}, err
		}

		return jamf.AccessToken{}, &jamf.AuthenticationError{
			Op:  "refresh",
			Err: fmt.Errorf("%w: %w", jamf.ErrTokenRefreshFailed, err),
		}
	}

	if token.IsZero() {
		return jamf.AccessToken{}, &jamf.AuthenticationError{Op: "refresh", Err: ErrEmptyToken}
	}

	s.Set(token)
	s.metrics.TokenRefreshed(token.Kind)
	s.logger.Debug("Token refreshed", map[string]interface{}{
		"kind":       string(token.Kind),
		"expires_at": token.ExpiresAt,
	})

	return token, nil
}

// obtain renews current when the provider supports it, falling back to a
// full exchange.
func (s *TokenStore) obtain(ctx context.Context, current jamf.AccessToken, renew bool) (jamf.AccessToken, error) {
	if renewer, ok := s.provider.(jamf.TokenRenewer); ok && renew && !current.IsZero() && !current.Expired(s.now()) {
		token, err := renewer.RenewToken(ctx, current)
		if err == nil {
			return token, nil
		}

		s.logger.Warn("Token renewal failed, requesting a new token", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if s.async {
		return jamf.RefreshAsync(ctx, s.provider).Await(ctx)
	}

	return s.provider.RefreshToken(ctx)
}
