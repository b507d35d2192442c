package egress

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"
)

// HostMatches reports whether host matches pattern. A pattern of the form
// "*.suffix" matches any host ending with ".suffix", including the literal
// ".suffix" itself; anything else is an exact match.
func HostMatches(host, pattern string) bool {
	if strings.HasPrefix(pattern, "*.") {
		return strings.HasSuffix(host, pattern[1:])
	}
	return host == pattern
}

// Allowed reports whether host matches any pattern in the allowlist.
func Allowed(host string, allowlist []string) bool {
	for _, pattern := range allowlist {
		if HostMatches(host, pattern) {
			return true
		}
	}
	return false
}

// ExtractHost returns the hostname of an absolute URL, or "" when the
// target does not parse as one.
func ExtractHost(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Union merges allowlists, de-duplicated, preserving first-seen order.
func Union(lists ...[]string) []string {
	seen := map[string]struct{}{}
	var merged []string
	for _, list := range lists {
		for _, item := range list {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}

// GlobalFetchFunc retrieves the catalog-published egress host list.
type GlobalFetchFunc func(ctx context.Context) ([]string, error)

// GlobalCache is a single shared slot over the catalog's global egress
// list, refreshed at most once per TTL. The value is advisory: concurrent
// refreshes may both fetch and overwrite, and reconverge within the TTL.
type GlobalCache struct {
	Fetch GlobalFetchFunc
	TTL   time.Duration

	mu        sync.Mutex
	hosts     []string
	fetchedAt time.Time
}

func NewGlobalCache(fetch GlobalFetchFunc, ttl time.Duration) *GlobalCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &GlobalCache{Fetch: fetch, TTL: ttl}
}

// Hosts returns the cached list, refreshing when stale. A failed refresh
// yields an empty list rather than an error; egress enforcement still runs
// against the static and tool-level lists.
func (c *GlobalCache) Hosts(ctx context.Context) []string {
	c.mu.Lock()
	if c.hosts != nil && time.Since(c.fetchedAt) < c.TTL {
		hosts := c.hosts
		c.mu.Unlock()
		return hosts
	}
	c.mu.Unlock()

	hosts, err := c.Fetch(ctx)
	if err != nil {
		return nil
	}
	if hosts == nil {
		hosts = []string{}
	}
	c.mu.Lock()
	c.hosts = hosts
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return hosts
}
