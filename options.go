package kueri

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option configures a Client during construction.
type Option func(*Client)

// WithBaseURL sets the API base URL. Required.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets the HTTP request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCredentials enables cookie handling on the underlying transport
func WithCredentials() Option {
	return func(c *Client) {
		c.withCredentials = true
	}
}

// WithAuthTokenKey sets the storage key under which tokens are persisted
func WithAuthTokenKey(key string) Option {
	return func(c *Client) {
		c.authTokenKey = key
	}
}

// WithTokenField sets the response field name the access token is read from
func WithTokenField(field string) Option {
	return func(c *Client) {
		c.tokenField = field
	}
}

// WithoutTokenStore disables automatic token capture from mutation responses
func WithoutTokenStore() Option {
	return func(c *Client) {
		c.storeToken = false
	}
}

// WithRefreshLead sets how long before expiry a proactive refresh is attempted
func WithRefreshLead(d time.Duration) Option {
	return func(c *Client) {
		c.refreshLead = d
	}
}

// WithAuthEndpoints overrides the login, logout and refresh paths
func WithAuthEndpoints(login, logout, refresh string) Option {
	return func(c *Client) {
		c.loginPath = login
		c.logoutPath = logout
		c.refreshPath = refresh
	}
}

// WithCachedAuthChecks memoizes role and permission checks in the cache
func WithCachedAuthChecks() Option {
	return func(c *Client) {
		c.cacheChecks = true
	}
}

// WithRetry sets the default retry count and delay for queries
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Client) {
		c.defaultRetry = retries
		c.defaultRetryDelay = delay
	}
}

// WithStaleTime sets the default freshness window for queries
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) {
		c.defaultStaleTime = d
	}
}

// WithCacheConfig replaces the cache engine configuration
func WithCacheConfig(cfg CacheConfig) Option {
	return func(c *Client) {
		c.cacheConfig = cfg
	}
}

// WithGlobalFormSpec sets a form transformation applied to every mutation
func WithGlobalFormSpec(spec *FormSpec) Option {
	return func(c *Client) {
		c.globalForm = spec
	}
}

// WithStorage attaches a persistence backend for tokens, user and cache state
func WithStorage(s Storage) Option {
	return func(c *Client) {
		c.storage = s
	}
}

// WithRateLimiter throttles outgoing requests with a token bucket
func WithRateLimiter(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.limiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithOnUnauthenticated registers a callback invoked when the session
// becomes terminally unauthenticated (refresh failed or was impossible).
func WithOnUnauthenticated(fn func()) Option {
	return func(c *Client) {
		c.onUnauthenticated = fn
	}
}

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithSimpleLogger enables the built-in stderr logger
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.logger = NewSimpleLogger()
	}
}

// WithZapLogger adapts a zap logger
func WithZapLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = NewZapLogger(l)
	}
}

// WithMetrics enables Prometheus metrics on the default registry
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector
func WithMetricsCollector(m *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithDebug enables debug logging with default settings
func WithDebug() Option {
	return func(c *Client) {
		cfg := DefaultDebugConfig()
		cfg.Enabled = true
		c.debug = cfg
		if c.logger == nil {
			c.logger = NewSimpleLogger()
		}
	}
}

// WithDebugConfig sets a custom debug configuration
func WithDebugConfig(cfg *DebugConfig) Option {
	return func(c *Client) {
		c.debug = cfg
	}
}

// ValidateConfiguration checks the configured values for consistency and
// returns a validation error describing every problem found.
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateAuthConfig()...)
	errors = append(errors, c.validateRetryConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validateDebugConfig()...)

	if len(errors) > 0 {
		return &ApiError{
			Kind:    KindValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.baseURL == "" {
		errors = append(errors, "baseURL must not be empty")
	}
	if c.timeout <= 0 {
		errors = append(errors, "timeout must be positive")
	}

	return errors
}

func (c *Client) validateAuthConfig() []string {
	var errors []string

	if c.authTokenKey == "" {
		errors = append(errors, "authTokenKey must not be empty")
	}
	if c.tokenField == "" {
		errors = append(errors, "tokenField must not be empty")
	}
	if c.refreshLead < 0 {
		errors = append(errors, "refreshLead must not be negative")
	}

	return errors
}

func (c *Client) validateRetryConfig() []string {
	var errors []string

	if c.defaultRetry < 0 {
		errors = append(errors, "retry count must not be negative")
	}
	if c.defaultRetryDelay < 0 {
		errors = append(errors, "retry delay must not be negative")
	}
	if c.defaultStaleTime < 0 {
		errors = append(errors, "stale time must not be negative")
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cacheConfig.MaxItems < 0 {
		errors = append(errors, "cache maxItems must not be negative")
	}
	if c.cacheConfig.MaxBytes < 0 {
		errors = append(errors, "cache maxBytes must not be negative")
	}
	if c.cacheConfig.DefaultTTL < 0 {
		errors = append(errors, "cache defaultTTL must not be negative")
	}
	if c.cacheConfig.MaxRetries < 0 {
		errors = append(errors, "cache maxRetries must not be negative")
	}
	if c.cacheConfig.RefreshInterval < 0 {
		errors = append(errors, "cache refreshInterval must not be negative")
	}

	return errors
}

func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen == nil {
		errors = append(errors, "debug requires a request ID generator")
	}

	return errors
}
