package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fivetwenty-io/jamfpro/internal/constants"
	"github.com/fivetwenty-io/jamfpro/pkg/jamf"
)

// Static errors for err113 compliance.
var (
	ErrNoTokenCache = errors.New("no token cache configured")
)

// ConfigTokenManager wraps a TokenStore and persists every refreshed token to
// a shared cache, so other processes using the same credentials can reuse it.
type ConfigTokenManager struct {
	store    *TokenStore
	cache    jamf.Cache
	cacheKey string
	logger   jamf.Logger

	mutex     sync.Mutex
	persisted string
}

// TokenCacheKey builds the cache key of the tokens issued to identity on the
// server at baseURL.
func TokenCacheKey(baseURL, identity string) string {
	return constants.TokenCacheKeyPrefix + ":" + baseURL + ":" + identity
}

// NewConfigTokenManager creates a persisting manager around store.
func NewConfigTokenManager(store *TokenStore, cache jamf.Cache, cacheKey string, logger jamf.Logger) *ConfigTokenManager {
	if logger == nil {
		logger = jamf.NopLogger{}
	}

	return &ConfigTokenManager{
		store:    store,
		cache:    cache,
		cacheKey: cacheKey,
		logger:   logger,
	}
}

// Load seeds the store from the cache. A missing or expired entry is not an error.
func (m *ConfigTokenManager) Load(ctx context.Context) error {
	if m.cache == nil {
		return ErrNoTokenCache
	}

	entry, err := m.cache.Get(ctx, m.cacheKey)
	if err != nil {
		if errors.Is(err, jamf.ErrCacheMiss) || errors.Is(err, jamf.ErrCacheEntryExpired) ||
			errors.Is(err, jamf.ErrCacheDisabled) || errors.Is(err, jamf.ErrKeyNotFoundInAnyCache) {
			return nil
		}

		return fmt.Errorf("loading cached token: %w", err)
	}

	var token jamf.AccessToken

	err = json.Unmarshal(entry.Data, &token)
	if err != nil {
		return fmt.Errorf("decoding cached token: %w", err)
	}

	if token.ExpiresWithin(m.store.margin, m.store.now()) {
		return nil
	}

	m.mutex.Lock()
	m.persisted = token.Value
	m.mutex.Unlock()

	m.store.Set(token)

	return nil
}

// GetToken returns a valid access token, refreshing and persisting it if necessary.
func (m *ConfigTokenManager) GetToken(ctx context.Context) (jamf.AccessToken, error) {
	token, err := m.store.GetToken(ctx)
	if err != nil {
		return jamf.AccessToken{}, err
	}

	m.persistIfChanged(ctx, token)

	return token, nil
}

// RefreshToken forces a refresh of stale and persists the result.
func (m *ConfigTokenManager) RefreshToken(ctx context.Context, stale string) (jamf.AccessToken, error) {
	token, err := m.store.RefreshToken(ctx, stale)
	if err != nil {
		return jamf.AccessToken{}, err
	}

	m.persistIfChanged(ctx, token)

	return token, nil
}

// SetToken manually sets the access token.
func (m *ConfigTokenManager) SetToken(ctx context.Context, token jamf.AccessToken) {
	m.store.Set(token)
	m.persistIfChanged(ctx, token)
}

// IsTokenExpiringSoon returns true if the token expires within the given duration.
func (m *ConfigTokenManager) IsTokenExpiringSoon(within time.Duration) bool {
	return m.store.Current().ExpiresWithin(within, m.store.now())
}

// GetTokenExpiry returns the current token's expiration time.
func (m *ConfigTokenManager) GetTokenExpiry() time.Time {
	return m.store.Current().ExpiresAt
}

// Forget drops the token locally and from the cache.
func (m *ConfigTokenManager) Forget(ctx context.Context) error {
	m.store.Clear()

	m.mutex.Lock()
	m.persisted = ""
	m.mutex.Unlock()

	if m.cache == nil {
		return nil
	}

	return m.cache.Delete(ctx, m.cacheKey)
}

func (m *ConfigTokenManager) persistIfChanged(ctx context.Context, token jamf.AccessToken) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if token.Value == m.persisted {
		return
	}

	err := m.persistToken(ctx, token)
	if err != nil {
		// The token is still usable; only sharing it failed.
		m.logger.Warn("Failed to persist refreshed token", map[string]interface{}{
			"key":   m.cacheKey,
			"error": err.Error(),
		})

		return
	}

	m.persisted = token.Value
}

// persistToken saves the token to the cache.
func (m *ConfigTokenManager) persistToken(ctx context.Context, token jamf.AccessToken) error {
	if m.cache == nil {
		return ErrNoTokenCache
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	err = m.cache.Set(ctx, m.cacheKey, &jamf.CacheEntry{Data: data, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return fmt.Errorf("failed to update API token: %w", err)
	}

	return nil
}
