// Package geo resolves a viewer's country from their IP address so that
// country targeting works when the render layer supplies only a client IP.
package geo

import (
	"sync"
	"time"
)

// Provider answers country lookups for IP addresses.
type Provider interface {
	Country(ip string) (string, error)
	Close() error
}

// Resolver wraps a Provider with a small TTL cache. Lookups are on the
// serve hot path; the same reader IPs repeat heavily within a news cycle.
type Resolver struct {
	provider Provider

	mu      sync.RWMutex
	cache   map[string]cacheEntry
	maxSize int
	ttl     time.Duration
}

type cacheEntry struct {
	country   string
	expiresAt time.Time
}

// NewResolver creates a caching resolver. A nil provider yields a resolver
// that always returns the empty country.
func NewResolver(provider Provider, cacheSize int, ttl time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    make(map[string]cacheEntry),
		maxSize:  cacheSize,
		ttl:      ttl,
	}
}

// Country returns the ISO 3166-1 alpha-2 code for the IP, or "" when it
// cannot be determined. Resolution failures are soft: targeting treats an
// empty country as unknown and country rules then fail to match.
func (r *Resolver) Country(ip string) string {
	if r == nil || r.provider == nil || ip == "" {
		return ""
	}

	r.mu.RLock()
	entry, ok := r.cache[ip]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.country
	}

	country, err := r.provider.Country(ip)
	if err != nil {
		return ""
	}

	r.mu.Lock()
	if len(r.cache) >= r.maxSize {
		// No eviction order; a full cache is dropped wholesale.
		r.cache = make(map[string]cacheEntry)
	}
	r.cache[ip] = cacheEntry{country: country, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return country
}

// Close releases the underlying provider.
func (r *Resolver) Close() error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close()
}
