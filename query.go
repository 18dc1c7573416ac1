package kueri

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/kueri/internal/backoff"
)

// QueryStatus is the observable lifecycle state of a Query.
type QueryStatus string

const (
	StatusIdle    QueryStatus = "idle"
	StatusLoading QueryStatus = "loading"
	StatusSuccess QueryStatus = "success"
	StatusError   QueryStatus = "error"
)

// QueryState is the snapshot observers receive. Data is retained across a
// refetch: loading after success keeps the previous value visible.
type QueryState struct {
	Status        QueryStatus
	Data          any
	Err           *ApiError
	LastFetchedAt time.Time
}

// QueryOption configures a Query handle.
type QueryOption func(*Query)

// WithQueryKey overrides the derived cache key.
func WithQueryKey(key string) QueryOption {
	return func(q *Query) { q.key = key }
}

// WithQueryDisabled constructs the handle without allowing fetches until
// Enable is called.
func WithQueryDisabled() QueryOption {
	return func(q *Query) { q.enabled = false }
}

// WithQueryRetry sets the maximum automatic retry attempts for transient
// failures.
func WithQueryRetry(attempts int) QueryOption {
	return func(q *Query) { q.retry = attempts }
}

// WithQueryRetryDelay sets the base spacing between retries; attempt n waits
// delay * n.
func WithQueryRetryDelay(d time.Duration) QueryOption {
	return func(q *Query) { q.retryDelay = d }
}

// WithQueryStaleTime sets how long a cached value is considered fresh enough
// to serve without a network call, overriding the client default. An explicit
// zero marks cached values always stale, so every Fetch hits the network.
func WithQueryStaleTime(d time.Duration) QueryOption {
	return func(q *Query) {
		q.staleTime = d
		q.staleSet = true
	}
}

// WithQueryCacheTime sets the TTL applied when a result is written to the
// cache.
func WithQueryCacheTime(d time.Duration) QueryOption {
	return func(q *Query) { q.cacheTime = d }
}

// WithQueryTags attaches invalidation tags to the cached result.
func WithQueryTags(tags ...string) QueryOption {
	return func(q *Query) { q.tags = tags }
}

// WithQueryPriority sets the eviction priority of the cached result.
func WithQueryPriority(p Priority) QueryOption {
	return func(q *Query) { q.priority = &p }
}

// WithQueryShaper installs a response shaper applied on success.
func WithQueryShaper(shape ResponseShaper) QueryOption {
	return func(q *Query) { q.spec.Transform = shape }
}

// WithQueryExponentialBackoff spaces retries exponentially with jitter
// instead of the default linear spacing. jitter is the random spread as a
// fraction of the computed delay, clamped to [0, 1].
func WithQueryExponentialBackoff(jitter float64) QueryOption {
	return func(q *Query) {
		q.delayer = backoff.ExponentialJitter{Jitter: jitter}
	}
}

// Query is a reactive handle over one idempotent read, bound to a stable
// key derived from its request shape. Concurrent observers of the same key
// share a single in-flight request.
type Query struct {
	client *Client
	spec   RequestSpec
	key    string

	enabled    bool
	retry      int
	retryDelay time.Duration
	delayer    backoff.Strategy
	staleTime  time.Duration
	staleSet   bool
	cacheTime  time.Duration
	tags       []string
	priority   *Priority

	mu             sync.Mutex
	state          QueryState
	subs           map[int]func(QueryState)
	nextSubID      int
	seq            uint64
	accepted       uint64
	inflightCancel context.CancelFunc
	closed         bool
}

// NewQuery builds a Query handle. The method defaults to GET.
func (c *Client) NewQuery(spec RequestSpec, opts ...QueryOption) *Query {
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}
	q := &Query{
		client:     c,
		spec:       spec,
		enabled:    true,
		retry:      c.defaultRetry,
		retryDelay: c.defaultRetryDelay,
		delayer:    linearDelay,
		staleTime:  c.defaultStaleTime,
		cacheTime:  c.cache.cfg.DefaultTTL,
		subs:       make(map[int]func(QueryState)),
		state:      QueryState{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.key == "" {
		q.key = buildQueryKey(&q.spec)
	}
	return q
}

// Key returns the cache key this query is bound to.
func (q *Query) Key() string { return q.key }

// State returns the current snapshot.
func (q *Query) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Enable re-arms a disabled query.
func (q *Query) Enable() {
	q.mu.Lock()
	q.enabled = true
	q.mu.Unlock()
}

// Subscribe registers an observer. The observer is invoked immediately with
// the current state and again after every transition. The returned function
// unsubscribes; when the last observer leaves, any in-flight request owned
// by this handle is aborted.
func (q *Query) Subscribe(fn func(QueryState)) func() {
	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subs[id] = fn
	snapshot := q.state
	q.mu.Unlock()

	fn(snapshot)

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		none := len(q.subs) == 0
		cancel := q.inflightCancel
		if none {
			q.inflightCancel = nil
		}
		q.mu.Unlock()
		if none && cancel != nil {
			cancel()
		}
	}
}

// Fetch serves from the cache when the entry is younger than staleTime,
// otherwise transitions to loading and performs the network call.
func (q *Query) Fetch(ctx context.Context) (any, error) {
	return q.fetch(ctx, false)
}

// Refetch always performs the network call, regardless of cache freshness.
func (q *Query) Refetch(ctx context.Context) (any, error) {
	return q.fetch(ctx, true)
}

// Invalidate marks the cached entry stale so the next observer triggers a
// fetch. The in-memory state is untouched.
func (q *Query) Invalidate() {
	q.client.cache.Expire(q.key)
}

// Close disposes the handle: observers are dropped, any in-flight request
// is aborted and further calls fail with ErrClosed.
func (q *Query) Close() {
	q.mu.Lock()
	q.closed = true
	q.subs = make(map[int]func(QueryState))
	cancel := q.inflightCancel
	q.inflightCancel = nil
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (q *Query) fetch(ctx context.Context, force bool) (any, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrClosed
	}
	if !q.enabled {
		data := q.state.Data
		q.mu.Unlock()
		return data, nil
	}
	q.mu.Unlock()

	if !force {
		if value, ok := q.freshCached(); ok {
			q.applyState(func(s *QueryState) {
				s.Status = StatusSuccess
				s.Data = value
				s.Err = nil
			})
			return value, nil
		}
	}

	seq := q.beginAttempt()

	callerCtx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.inflightCancel = cancel
	q.mu.Unlock()
	defer cancel()

	// The shared flight runs on its own refcounted context so that one
	// caller leaving (Close, unsubscribe, caller cancellation) cannot abort
	// a request other same-key callers are still waiting on.
	flightCtx, leave := q.client.queryFlights.join(q.key)
	defer leave()

	q.applyState(func(s *QueryState) {
		s.Status = StatusLoading
		s.Err = nil
	})

	ch := q.client.queryGroup.DoChan(q.key, func() (any, error) {
		return q.runRequest(flightCtx)
	})

	var outcome any
	var err error
	select {
	case <-callerCtx.Done():
		leave()
		err = &ApiError{
			Kind:      KindNetwork,
			Message:   "query cancelled",
			Cause:     callerCtx.Err(),
			Method:    q.spec.Method,
			URL:       q.spec.Path,
			Timestamp: time.Now(),
		}
	case res := <-ch:
		outcome, err = res.Val, res.Err
		if res.Shared {
			q.client.metrics.RecordCoalesced(q.key)
		}
	}

	if err != nil {
		apiErr := AsApiError(err)
		if q.acceptResult(seq) {
			q.applyState(func(s *QueryState) {
				s.Status = StatusError
				s.Err = apiErr
			})
		}
		return nil, apiErr
	}

	res := outcome.(*fetchOutcome)
	if q.acceptResult(seq) {
		q.applyState(func(s *QueryState) {
			s.Status = StatusSuccess
			s.Data = res.data
			s.Err = nil
			s.LastFetchedAt = res.fetchedAt
		})
	}
	return res.data, nil
}

type fetchOutcome struct {
	data      any
	fetchedAt time.Time
}

// runRequest is the coalesced network flight: pipeline execution with the
// automatic retry policy, then the cache write.
func (q *Query) runRequest(ctx context.Context) (any, error) {
	var lastErr error
	var lastRaw *RawResponse

	for attempt := 0; attempt <= q.retry; attempt++ {
		if attempt > 0 {
			q.client.metrics.RecordRetry(q.spec.Method, q.spec.Path, attempt)
			delay := q.delayer.Delay(attempt, q.retryDelay, 0)
			if lastRaw != nil {
				if ra := parseRetryAfter(lastRaw.Header.Get("Retry-After")); ra > 0 {
					delay = ra
				}
			}
			if q.client.debug != nil && q.client.debug.Enabled && q.client.debug.LogRetries && q.client.logger != nil {
				q.client.logger.Debug("retrying query", "key", q.key, "attempt", attempt, "delay", delay)
			}
			select {
			case <-ctx.Done():
				return nil, &ApiError{
					Kind:      KindNetwork,
					Message:   "query cancelled",
					Cause:     ctx.Err(),
					Method:    q.spec.Method,
					URL:       q.spec.Path,
					Timestamp: time.Now(),
				}
			case <-time.After(delay):
			}
		}

		payload, raw, err := q.client.pipeline.execute(ctx, &q.spec)
		if err == nil {
			data := payload.Value()
			ttl := q.cacheTime
			var header http.Header
			if raw != nil {
				header = raw.Header
			}
			if ttl = effectiveTTL(header, ttl); ttl > 0 {
				q.client.cache.Set(q.key, data, SetOptions{
					TTL:      ttl,
					Priority: q.priority,
					Tags:     q.tags,
				})
			}
			return &fetchOutcome{data: data, fetchedAt: time.Now()}, nil
		}

		lastErr = err
		lastRaw = raw
		if !IsRetryable(err) {
			break
		}
	}
	return nil, lastErr
}

// freshCached returns the cached value when the entry is younger than
// staleTime. An explicit zero stale time never serves from the cache; an
// unset one accepts any unexpired entry.
func (q *Query) freshCached() (any, bool) {
	meta, ok := q.client.cache.GetMetadata(q.key)
	if !ok {
		return nil, false
	}
	if q.staleSet && q.staleTime <= 0 {
		return nil, false
	}
	if q.staleTime > 0 && time.Since(meta.CreatedAt) > q.staleTime {
		return nil, false
	}
	return q.client.cache.Get(q.key)
}

func (q *Query) beginAttempt() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// acceptResult enforces completion ordering: an earlier-issued fetch that
// resolves after a later one is discarded.
func (q *Query) acceptResult(seq uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || seq < q.accepted {
		return false
	}
	q.accepted = seq
	return true
}

func (q *Query) applyState(mutate func(*QueryState)) {
	q.mu.Lock()
	mutate(&q.state)
	snapshot := q.state
	observers := make([]func(QueryState), 0, len(q.subs))
	for _, fn := range q.subs {
		observers = append(observers, fn)
	}
	q.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// queryFlight is one coalesced in-flight request with the number of callers
// still waiting on it.
type queryFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// flightRegistry refcounts the callers waiting on each coalesced key. The
// zero value is ready to use.
type flightRegistry struct {
	mu      sync.Mutex
	flights map[string]*queryFlight
}

// join registers a caller for key and returns the context the shared flight
// runs on. The returned leave func is idempotent; the flight context is
// cancelled only when the last registered caller has left.
func (r *flightRegistry) join(key string) (context.Context, func()) {
	r.mu.Lock()
	if r.flights == nil {
		r.flights = make(map[string]*queryFlight)
	}
	f, ok := r.flights[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &queryFlight{ctx: ctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	r.mu.Unlock()

	var once sync.Once
	leave := func() {
		once.Do(func() {
			r.mu.Lock()
			f.waiters--
			last := f.waiters == 0
			if last && r.flights[key] == f {
				delete(r.flights, key)
			}
			r.mu.Unlock()
			if last {
				f.cancel()
			}
		})
	}
	return f.ctx, leave
}

// buildQueryKey derives a stable key from the request shape: method, path,
// sorted query string and a hash of the body when present.
func buildQueryKey(spec *RequestSpec) string {
	h := fnv.New64a()
	h.Write([]byte(spec.Method))
	h.Write([]byte{':'})
	h.Write([]byte(spec.Path))
	if len(spec.Query) > 0 {
		h.Write([]byte{'?'})
		h.Write([]byte(spec.Query.Encode()))
	}
	if spec.Body != nil {
		if blob, err := json.Marshal(spec.Body); err == nil {
			h.Write(blob)
		}
	}
	return fmt.Sprintf("%s:%s:%x", spec.Method, spec.Path, h.Sum64())
}
