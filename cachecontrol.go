package kueri

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// cacheDirectives is the subset of Cache-Control this library honors when
// deciding how long a query result may live in the cache.
type cacheDirectives struct {
	NoStore bool
	NoCache bool
	MaxAge  *time.Duration
}

// parseCacheControl parses a Cache-Control header value.
func parseCacheControl(header string) cacheDirectives {
	var d cacheDirectives
	if header == "" {
		return d
	}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if key, value, found := strings.Cut(part, "="); found {
			if strings.TrimSpace(key) == "max-age" {
				if seconds, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), "\"")); err == nil && seconds >= 0 {
					maxAge := time.Duration(seconds) * time.Second
					d.MaxAge = &maxAge
				}
			}
			continue
		}
		switch part {
		case "no-store":
			d.NoStore = true
		case "no-cache":
			d.NoCache = true
		}
	}
	return d
}

// effectiveTTL caps the configured entry TTL with the server's max-age when
// one is present. A zero return means the response must not be cached.
func effectiveTTL(header http.Header, configured time.Duration) time.Duration {
	if header == nil {
		return configured
	}
	d := parseCacheControl(header.Get("Cache-Control"))
	if d.NoStore {
		return 0
	}
	if d.MaxAge != nil && *d.MaxAge < configured {
		return *d.MaxAge
	}
	return configured
}

// parseRetryAfter reads a Retry-After header as either delay-seconds or an
// HTTP date, capped at one hour. Zero when absent or malformed.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}
	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}
	return 0
}
