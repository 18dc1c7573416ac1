package kueri

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Priority orders cache entries for eviction under capacity pressure.
// Lower priorities are evicted first.
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// CacheEntry is one value stored under one key.
type CacheEntry struct {
	Key            string        `json:"key"`
	Value          any           `json:"value"`
	CreatedAt      time.Time     `json:"created_at"`
	TTL            time.Duration `json:"ttl"`
	Priority       Priority      `json:"priority"`
	Tags           []string      `json:"tags,omitempty"`
	Size           int64         `json:"size"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at"`
}

// ExpiresAt is CreatedAt + TTL.
func (e *CacheEntry) ExpiresAt() time.Time { return e.CreatedAt.Add(e.TTL) }

func (e *CacheEntry) expired(now time.Time, maxAge time.Duration) bool {
	if !now.Before(e.ExpiresAt()) {
		return true
	}
	return maxAge > 0 && now.Sub(e.CreatedAt) >= maxAge
}

func (e *CacheEntry) hasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range e.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// CacheConfig is the engine policy surface.
type CacheConfig struct {
	MaxBytes        int64
	MaxItems        int
	MaxAge          time.Duration
	DefaultTTL      time.Duration
	DefaultPriority Priority
	MaxRetries      int
	RetryDelay      time.Duration
	RefreshInterval time.Duration
}

// DefaultCacheConfig mirrors the documented defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxBytes:        100 << 20,
		MaxItems:        1000,
		DefaultTTL:      time.Hour,
		DefaultPriority: PriorityNormal,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		RefreshInterval: 5 * time.Minute,
	}
}

// SetOptions configure one Set call. Zero values fall back to engine
// defaults.
type SetOptions struct {
	TTL      time.Duration
	Priority *Priority
	Tags     []string

	// AutoRefresh schedules a background timer that re-runs Produce at
	// RefreshInterval, with the engine retry policy on failure.
	AutoRefresh     bool
	RefreshInterval time.Duration
	Produce         ProduceFunc
	Validate        func(any) bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// GetOptions configure one Get call.
type GetOptions struct {
	// Validate rejects a stored value; a false return behaves as a miss
	// (or yields Fallback when set).
	Validate func(any) bool
	Fallback any

	// Refresh schedules a non-blocking background refresh using Produce
	// without changing the immediate return.
	Refresh bool
	Produce ProduceFunc
}

// CacheStats is the snapshot returned by Stats.
type CacheStats struct {
	TotalItems        int       `json:"total_items"`
	TotalBytes        int64     `json:"total_bytes"`
	ExpiredItems      int       `json:"expired_items"`
	TotalAccessCount  int64     `json:"total_access_count"`
	AverageAccesses   float64   `json:"average_access_count"`
	CacheEfficiency   float64   `json:"cache_efficiency"`
	LastCleanupAt     time.Time `json:"last_cleanup_at"`
}

// CacheEngine is the in-memory tagged TTL cache. A single engine instance is
// owned by the client; all methods are safe for concurrent use. Eviction
// runs synchronously inside Set.
type CacheEngine struct {
	mu         sync.Mutex
	entries    map[string]*CacheEntry
	timers     map[string]*refreshTimer
	totalBytes int64
	lastClean  time.Time
	cfg        CacheConfig

	onRefreshFailed func(key string, err error)

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig
	now     func() time.Time
}

// NewCacheEngine creates an engine with the given policy; zero fields fall
// back to defaults.
func NewCacheEngine(cfg CacheConfig) *CacheEngine {
	def := DefaultCacheConfig()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	return &CacheEngine{
		entries: make(map[string]*CacheEntry),
		timers:  make(map[string]*refreshTimer),
		cfg:     cfg,
		now:     time.Now,
	}
}

// Set stores value under key, replacing any previous entry. When the write
// pushes the engine over its byte or item limits, cleanup runs before Set
// returns.
func (c *CacheEngine) Set(key string, value any, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	priority := c.cfg.DefaultPriority
	if opts.Priority != nil {
		priority = *opts.Priority
	}
	now := c.now()
	entry := &CacheEntry{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		Priority:       priority,
		Tags:           append([]string(nil), opts.Tags...),
		Size:           estimateSize(value),
		LastAccessedAt: now,
	}

	c.mu.Lock()
	if prev, ok := c.entries[key]; ok {
		c.totalBytes -= prev.Size
		c.cancelTimerLocked(key)
	}
	c.entries[key] = entry
	c.totalBytes += entry.Size

	if opts.AutoRefresh && opts.Produce != nil {
		c.scheduleRefreshLocked(key, refreshPlan{
			interval:   orDuration(opts.RefreshInterval, c.cfg.RefreshInterval),
			produce:    opts.Produce,
			validate:   opts.Validate,
			maxRetries: orInt(opts.MaxRetries, c.cfg.MaxRetries),
			retryDelay: orDuration(opts.RetryDelay, c.cfg.RetryDelay),
		})
	}

	over := c.totalBytes > c.cfg.MaxBytes || len(c.entries) > c.cfg.MaxItems
	if over {
		c.cleanupLocked()
	}
	c.recordSizeLocked()
	c.mu.Unlock()

	if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
		c.logger.Debug("cache set", "key", key, "ttl", ttl, "priority", priority.String())
	}
}

// Get returns the stored value. Expired entries are removed and reported as
// a miss; access statistics update on every hit.
func (c *CacheEngine) Get(key string, opts ...GetOptions) (any, bool) {
	var opt GetOptions
	if len(opts) > 0 {
		opt = opts[0]
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.metrics.RecordCacheMiss("default")
		return missValue(opt)
	}

	now := c.now()
	if entry.expired(now, c.cfg.MaxAge) {
		c.removeLocked(key)
		c.mu.Unlock()
		c.metrics.RecordCacheMiss("default")
		return missValue(opt)
	}

	if opt.Validate != nil && !opt.Validate(entry.Value) {
		c.removeLocked(key)
		c.mu.Unlock()
		c.metrics.RecordCacheMiss("default")
		return missValue(opt)
	}

	entry.AccessCount++
	entry.LastAccessedAt = now
	value := entry.Value
	c.mu.Unlock()

	if opt.Refresh && opt.Produce != nil {
		go c.backgroundRefresh(key, opt.Produce, nil)
	}

	c.metrics.RecordCacheHit("default")
	return value, true
}

// Has reports whether a fresh entry exists without touching access stats.
func (c *CacheEngine) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && !entry.expired(c.now(), c.cfg.MaxAge)
}

// GetMetadata returns a copy of the entry bookkeeping without updating
// access statistics. It is a pure read.
func (c *CacheEngine) GetMetadata(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	cp := *entry
	cp.Tags = append([]string(nil), entry.Tags...)
	return cp, true
}

// Keys returns a snapshot of all keys, fresh or not.
func (c *CacheEngine) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove deletes one entry and cancels its refresh timer.
func (c *CacheEngine) Remove(key string) {
	c.mu.Lock()
	c.removeLocked(key)
	c.recordSizeLocked()
	c.mu.Unlock()
}

// Clear removes every entry and cancels every refresh timer.
func (c *CacheEngine) Clear() {
	c.mu.Lock()
	for key := range c.timers {
		c.cancelTimerLocked(key)
	}
	c.entries = make(map[string]*CacheEntry)
	c.totalBytes = 0
	c.recordSizeLocked()
	c.mu.Unlock()
}

// Expire marks an entry stale in place so the next Get misses and the next
// observer refetches. The entry metadata survives until then.
func (c *CacheEngine) Expire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	entry.CreatedAt = c.now().Add(-entry.TTL)
	return true
}

// InvalidatePrefix removes entries whose key starts with prefix. Returns the
// number removed.
func (c *CacheEngine) InvalidatePrefix(prefix string) int {
	return c.invalidate(func(key string) bool { return strings.HasPrefix(key, prefix) })
}

// InvalidateRegexp removes entries whose key matches re.
func (c *CacheEngine) InvalidateRegexp(re *regexp.Regexp) int {
	return c.invalidate(re.MatchString)
}

// InvalidateFunc removes entries whose key satisfies match.
func (c *CacheEngine) InvalidateFunc(match func(string) bool) int {
	return c.invalidate(match)
}

// Invalidate accepts a literal prefix, a *regexp.Regexp or a
// func(string) bool and removes matching entries, cancelling their refresh
// timers. Unknown pattern types match nothing.
func (c *CacheEngine) Invalidate(pattern any) int {
	switch p := pattern.(type) {
	case string:
		return c.InvalidatePrefix(p)
	case *regexp.Regexp:
		return c.InvalidateRegexp(p)
	case func(string) bool:
		return c.InvalidateFunc(p)
	default:
		return 0
	}
}

func (c *CacheEngine) invalidate(match func(string) bool) int {
	c.mu.Lock()
	removed := 0
	for key := range c.entries {
		if match(key) {
			c.removeLocked(key)
			removed++
		}
	}
	c.recordSizeLocked()
	c.mu.Unlock()
	return removed
}

// InvalidateByTags removes entries whose tag set intersects tags. Only the
// timers of affected keys are cancelled.
func (c *CacheEngine) InvalidateByTags(tags ...string) int {
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.hasAnyTag(tags) {
			c.removeLocked(key)
			removed++
		}
	}
	c.recordSizeLocked()
	c.mu.Unlock()
	return removed
}

// Configure mutates policy and runs cleanup under the new limits.
func (c *CacheEngine) Configure(cfg CacheConfig) {
	c.mu.Lock()
	if cfg.MaxBytes > 0 {
		c.cfg.MaxBytes = cfg.MaxBytes
	}
	if cfg.MaxItems > 0 {
		c.cfg.MaxItems = cfg.MaxItems
	}
	if cfg.MaxAge > 0 {
		c.cfg.MaxAge = cfg.MaxAge
	}
	if cfg.DefaultTTL > 0 {
		c.cfg.DefaultTTL = cfg.DefaultTTL
	}
	if cfg.MaxRetries > 0 {
		c.cfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		c.cfg.RetryDelay = cfg.RetryDelay
	}
	if cfg.RefreshInterval > 0 {
		c.cfg.RefreshInterval = cfg.RefreshInterval
	}
	c.cleanupLocked()
	c.recordSizeLocked()
	c.mu.Unlock()
}

// Stats returns the engine snapshot. Efficiency is the fraction of entries
// currently fresh.
func (c *CacheEngine) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := CacheStats{
		TotalItems:    len(c.entries),
		TotalBytes:    c.totalBytes,
		LastCleanupAt: c.lastClean,
	}
	for _, entry := range c.entries {
		stats.TotalAccessCount += entry.AccessCount
		if entry.expired(now, c.cfg.MaxAge) {
			stats.ExpiredItems++
		}
	}
	if stats.TotalItems > 0 {
		stats.AverageAccesses = float64(stats.TotalAccessCount) / float64(stats.TotalItems)
		stats.CacheEfficiency = float64(stats.TotalItems-stats.ExpiredItems) / float64(stats.TotalItems)
	}
	return stats
}

// Cleanup sweeps expired entries and, when still over capacity, evicts
// survivors lowest-priority first with oldest access breaking ties.
func (c *CacheEngine) Cleanup() {
	c.mu.Lock()
	c.cleanupLocked()
	c.recordSizeLocked()
	c.mu.Unlock()
}

func (c *CacheEngine) cleanupLocked() {
	now := c.now()
	expired := 0
	for key, entry := range c.entries {
		if entry.expired(now, c.cfg.MaxAge) {
			c.removeLocked(key)
			expired++
		}
	}
	c.metrics.RecordCacheEviction("default", "expired", expired)

	if c.totalBytes <= c.cfg.MaxBytes && len(c.entries) <= c.cfg.MaxItems {
		c.lastClean = now
		return
	}

	survivors := make([]*CacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		survivors = append(survivors, entry)
	}
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].Priority != survivors[j].Priority {
			return survivors[i].Priority < survivors[j].Priority
		}
		return survivors[i].LastAccessedAt.Before(survivors[j].LastAccessedAt)
	})

	evicted := 0
	for _, victim := range survivors {
		if c.totalBytes <= c.cfg.MaxBytes && len(c.entries) <= c.cfg.MaxItems {
			break
		}
		c.removeLocked(victim.Key)
		evicted++
	}
	c.metrics.RecordCacheEviction("default", "capacity", evicted)
	c.lastClean = now
}

func (c *CacheEngine) removeLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		c.totalBytes -= entry.Size
		delete(c.entries, key)
	}
	c.cancelTimerLocked(key)
}

func (c *CacheEngine) recordSizeLocked() {
	c.metrics.RecordCacheSize("default", len(c.entries), c.totalBytes)
}

// Snapshot serializes every entry plus policy for persistence. Values that
// fail to marshal are skipped.
func (c *CacheEngine) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := cacheState{Config: c.cfg}
	for _, entry := range c.entries {
		state.Entries = append(state.Entries, *entry)
	}
	return json.Marshal(state)
}

// Restore loads a Snapshot blob, dropping entries already expired. Refresh
// timers do not survive persistence; producers are process-local.
func (c *CacheEngine) Restore(blob []byte) error {
	var state cacheState
	if err := json.Unmarshal(blob, &state); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i := range state.Entries {
		entry := state.Entries[i]
		if entry.expired(now, c.cfg.MaxAge) {
			continue
		}
		if prev, ok := c.entries[entry.Key]; ok {
			c.totalBytes -= prev.Size
		}
		cp := entry
		c.entries[entry.Key] = &cp
		c.totalBytes += entry.Size
	}
	c.recordSizeLocked()
	return nil
}

type cacheState struct {
	Entries []CacheEntry `json:"entries"`
	Config  CacheConfig  `json:"config"`
}

// estimateSize is a best-effort byte count for accounting and eviction.
func estimateSize(value any) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	}
	blob, err := json.Marshal(value)
	if err != nil {
		return 64
	}
	return int64(len(blob))
}

func missValue(opt GetOptions) (any, bool) {
	if opt.Fallback != nil {
		return opt.Fallback, false
	}
	return nil, false
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
