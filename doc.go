// Package kueri is a JSON-over-HTTP data access layer with reactive
// primitives:
//
//   - Query: observable reads with retries, request coalescing and a
//     stale-while-revalidate cache
//   - Mutation: observable writes with form-data transformation, token
//     capture and cache invalidation hints
//   - Token lifecycle: bearer injection, proactive refresh ahead of expiry
//     and a single transparent retry after a 401
//   - Tagged TTL cache with priorities, auto-refresh and size-aware eviction
//   - Auth manager with role and permission predicates
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Typed error taxonomy: every failure carries an ErrorKind derived from
//     the HTTP status and response shape
//
// Typical usage:
//
//	client := kueri.New(
//	    kueri.WithBaseURL("https://api.example.com"),
//	    kueri.WithRetry(3, time.Second),
//	    kueri.WithStorage(kueri.NewMemoryStorage()),
//	    kueri.WithMetrics(),
//	)
//	users := client.NewQuery(kueri.RequestSpec{Method: http.MethodGet, Path: "/users"})
//	data, err := users.Fetch(ctx)
//
// Queries retry network and server failures only; validation and auth
// failures surface immediately. The library avoids opinionated logging:
// provide a Logger (e.g. via WithSimpleLogger or WithZapLogger) and enable
// debug flags selectively (WithDebug / WithDebugConfig) for insight without
// noise.
package kueri
