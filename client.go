package kueri

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// Client is the process-wide entry point: it owns the transport, the token
// store, the request pipeline, the cache engine and the auth manager, and
// hands out Query and Mutation handles. It is safe for concurrent use.
type Client struct {
	baseURL         string
	timeout         time.Duration
	withCredentials bool
	authTokenKey    string
	tokenField      string
	storeToken      bool
	refreshLead     time.Duration

	loginPath   string
	logoutPath  string
	refreshPath string
	cacheChecks bool

	defaultRetry      int
	defaultRetryDelay time.Duration
	defaultStaleTime  time.Duration

	cacheConfig CacheConfig
	globalForm  *FormSpec
	storage     Storage
	limiter     *RateLimiter

	transport *Transport
	tokens    *TokenStore
	pipeline  *Pipeline
	cache     *CacheEngine
	auth      *AuthManager

	queryGroup   singleflight.Group
	queryFlights flightRegistry

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	onUnauthenticated func()

	validationError error
}

// New constructs a Client from functional options. Configuration is
// validated up front; use IsValid / ValidationError to inspect the result.
// A base URL is mandatory.
func New(options ...Option) *Client {
	c := &Client{
		timeout:           30 * time.Second,
		authTokenKey:      "auth_token",
		tokenField:        "access_token",
		storeToken:        true,
		refreshLead:       DefaultRefreshLead,
		loginPath:         "/auth/login",
		logoutPath:        "/auth/logout",
		refreshPath:       "/auth/refresh",
		defaultRetry:      3,
		defaultRetryDelay: time.Second,
		defaultStaleTime:  time.Minute,
		cacheConfig:       DefaultCacheConfig(),
		debug:             DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}

	c.transport = NewTransport(c.baseURL, c.timeout, c.withCredentials)
	c.transport.metrics = c.metrics
	c.transport.logger = c.logger
	c.transport.debug = c.debug

	c.tokens = NewTokenStore(c.storage, c.authTokenKey, c.refreshLead)

	c.pipeline = NewPipeline(c.transport, c.tokens, c.refreshPath, c.tokenField)
	c.pipeline.limiter = c.limiter
	c.pipeline.onUnauthenticated = c.onUnauthenticated
	c.pipeline.metrics = c.metrics
	c.pipeline.logger = c.logger
	c.pipeline.debug = c.debug

	c.cache = NewCacheEngine(c.cacheConfig)
	c.cache.metrics = c.metrics
	c.cache.logger = c.logger
	c.cache.debug = c.debug

	c.auth = &AuthManager{
		client:      c,
		loginPath:   c.loginPath,
		logoutPath:  c.logoutPath,
		refreshPath: c.refreshPath,
		cacheChecks: c.cacheChecks,
	}
	c.auth.restoreUser()

	if c.storage != nil {
		c.restoreCache()
	}

	return c
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool { return c.validationError == nil }

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error { return c.validationError }

// Auth returns the auth manager.
func (c *Client) Auth() *AuthManager { return c.auth }

// Cache returns the cache engine.
func (c *Client) Cache() *CacheEngine { return c.cache }

// Tokens returns the token store.
func (c *Client) Tokens() *TokenStore { return c.tokens }

// Pipeline returns the request pipeline for callers that need raw execution
// with auth handling but without a Query or Mutation handle.
func (c *Client) Pipeline() *Pipeline { return c.pipeline }

// Metrics returns the metrics collector, or nil when none is configured.
func (c *Client) Metrics() *MetricsCollector { return c.metrics }

// Execute runs a request spec through the pipeline.
func (c *Client) Execute(ctx context.Context, spec *RequestSpec) (Payload, error) {
	return c.pipeline.Execute(ctx, spec)
}

// Get performs a GET through the pipeline.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Payload, error) {
	return c.Execute(ctx, &RequestSpec{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs a POST through the pipeline.
func (c *Client) Post(ctx context.Context, path string, body any) (Payload, error) {
	return c.Execute(ctx, &RequestSpec{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs a PUT through the pipeline.
func (c *Client) Put(ctx context.Context, path string, body any) (Payload, error) {
	return c.Execute(ctx, &RequestSpec{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs a PATCH through the pipeline.
func (c *Client) Patch(ctx context.Context, path string, body any) (Payload, error) {
	return c.Execute(ctx, &RequestSpec{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs a DELETE through the pipeline.
func (c *Client) Delete(ctx context.Context, path string, query url.Values) (Payload, error) {
	return c.Execute(ctx, &RequestSpec{Method: http.MethodDelete, Path: path, Query: query})
}

// Close tears the client down: cache refresh timers are cancelled and, when
// a storage backend is attached, the cache contents are persisted.
func (c *Client) Close() {
	if c.storage != nil {
		c.saveCache()
	}
	c.cache.Clear()
}

const cacheStorageKey = "cache_state"

func (c *Client) saveCache() {
	blob, err := c.cache.Snapshot()
	if err != nil {
		return
	}
	_ = c.storage.Set(cacheStorageKey, blob)
}

func (c *Client) restoreCache() {
	blob, ok := c.storage.Get(cacheStorageKey)
	if !ok {
		return
	}
	_ = c.cache.Restore(blob)
}

func (c *Client) logAuth(msg string, keysAndValues ...any) {
	if c.debug != nil && c.debug.Enabled && c.debug.LogAuth && c.logger != nil {
		c.logger.Debug(msg, keysAndValues...)
	}
}
