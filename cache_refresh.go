package kueri

import (
	"context"
	"time"

	"github.com/ambiyansyah-risyal/kueri/internal/backoff"
)

// ProduceFunc recomputes a cached value.
type ProduceFunc func(ctx context.Context) (any, error)

// RefreshOptions configure a manual Refresh call. Zero values fall back to
// engine policy.
type RefreshOptions struct {
	MaxRetries int
	RetryDelay time.Duration
	Validate   func(any) bool
}

// RefreshResult reports the outcome of a manual Refresh.
type RefreshResult struct {
	OK      bool
	Value   any
	Err     error
	Retries int
}

type refreshPlan struct {
	interval   time.Duration
	produce    ProduceFunc
	validate   func(any) bool
	maxRetries int
	retryDelay time.Duration
}

type refreshTimer struct {
	timer *time.Timer
	plan  refreshPlan
}

var linearDelay backoff.Linear

// OnAutoRefreshFailed installs the hook invoked when a scheduled refresh
// exhausts its retries. The entry is left stale until its TTL.
func (c *CacheEngine) OnAutoRefreshFailed(fn func(key string, err error)) {
	c.mu.Lock()
	c.onRefreshFailed = fn
	c.mu.Unlock()
}

// Refresh re-runs produce for key with up to MaxRetries attempts spaced at
// RetryDelay * attempt. On success the entry is replaced preserving its
// original TTL, priority and tags; on final failure the existing entry is
// left untouched.
func (c *CacheEngine) Refresh(ctx context.Context, key string, produce ProduceFunc, opts ...RefreshOptions) RefreshResult {
	var opt RefreshOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	maxRetries := orInt(opt.MaxRetries, c.cfg.MaxRetries)
	retryDelay := orDuration(opt.RetryDelay, c.cfg.RetryDelay)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordCacheRefresh("default", "retry")
			select {
			case <-ctx.Done():
				return RefreshResult{Err: ctx.Err(), Retries: attempt - 1}
			case <-time.After(linearDelay.Delay(attempt, retryDelay, 0)):
			}
		}

		value, err := produce(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if opt.Validate != nil && !opt.Validate(value) {
			lastErr = errInvalidRefreshValue
			continue
		}

		c.replaceValue(key, value)
		c.metrics.RecordCacheRefresh("default", "success")
		return RefreshResult{OK: true, Value: value, Retries: attempt}
	}

	c.metrics.RecordCacheRefresh("default", "failure")
	return RefreshResult{Err: lastErr, Retries: maxRetries}
}

// replaceValue swaps the stored value while keeping the entry's TTL,
// priority and tags. Freshness restarts from now. The write is dropped when
// the entry was removed while the refresh ran, so a racing Remove or
// Invalidate cannot be undone by an in-flight refresh.
func (c *CacheEngine) replaceValue(key string, value any) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.totalBytes -= entry.Size
	entry.Value = value
	entry.Size = estimateSize(value)
	entry.CreatedAt = c.now()
	c.totalBytes += entry.Size
	c.recordSizeLocked()
	c.mu.Unlock()
}

func (c *CacheEngine) backgroundRefresh(key string, produce ProduceFunc, validate func(any) bool) {
	c.Refresh(context.Background(), key, produce, RefreshOptions{Validate: validate})
}

// scheduleRefreshLocked arms the auto-refresh timer for key. Caller holds
// the engine lock.
func (c *CacheEngine) scheduleRefreshLocked(key string, plan refreshPlan) {
	rt := &refreshTimer{plan: plan}
	rt.timer = time.AfterFunc(plan.interval, func() {
		c.runAutoRefresh(key, rt)
	})
	c.timers[key] = rt
}

// runAutoRefresh executes one scheduled pass and re-arms the timer when the
// entry is still live.
func (c *CacheEngine) runAutoRefresh(key string, rt *refreshTimer) {
	c.mu.Lock()
	if c.timers[key] != rt {
		// Cancelled or replaced while the callback was pending.
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	result := c.Refresh(context.Background(), key, rt.plan.produce, RefreshOptions{
		MaxRetries: rt.plan.maxRetries,
		RetryDelay: rt.plan.retryDelay,
		Validate:   rt.plan.validate,
	})

	c.mu.Lock()
	if c.timers[key] != rt {
		c.mu.Unlock()
		return
	}
	if !result.OK {
		hook := c.onRefreshFailed
		c.mu.Unlock()
		if c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil {
			c.logger.Warn("cache auto-refresh failed", "key", key, "retries", result.Retries, "error", result.Err)
		}
		if hook != nil {
			hook(key, result.Err)
		}
		c.mu.Lock()
		if c.timers[key] != rt {
			c.mu.Unlock()
			return
		}
	}
	rt.timer = time.AfterFunc(rt.plan.interval, func() {
		c.runAutoRefresh(key, rt)
	})
	c.mu.Unlock()
}

// cancelTimerLocked stops and forgets the refresh timer for key. Caller
// holds the engine lock.
func (c *CacheEngine) cancelTimerLocked(key string) {
	if rt, ok := c.timers[key]; ok {
		rt.timer.Stop()
		delete(c.timers, key)
	}
}

// ActiveTimers returns how many auto-refresh timers are currently armed.
func (c *CacheEngine) ActiveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type refreshValueError string

func (e refreshValueError) Error() string { return string(e) }

const errInvalidRefreshValue = refreshValueError("kueri: refreshed value rejected by validator")
