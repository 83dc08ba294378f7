package credentials

import (
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultCacheSize = 128
	defaultCacheTTL  = 50 * time.Minute
)

// cacheEntry pairs resolved credentials with the fingerprint of the provider
// configuration they were resolved from.
type cacheEntry struct {
	credentials aws.Credentials
	fingerprint string
}

// Cache is the bounded in-memory credentials cache, keyed by provider id. An
// entry is a hit only while its stored fingerprint matches the provider's
// current fingerprint; a mismatch is treated as a miss requiring refresh.
type Cache struct {
	lru *lru.LRU[string, cacheEntry]
}

// NewCache creates a cache holding at most size entries (0 means the default).
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{lru: lru.NewLRU[string, cacheEntry](size, nil, defaultCacheTTL)}
}

// Get returns the cached credentials for providerID when present, unexpired
// and fingerprint-fresh.
func (c *Cache) Get(providerID, fingerprint string) (aws.Credentials, bool) {
	entry, ok := c.lru.Get(providerID)
	if !ok || entry.fingerprint != fingerprint {
		return aws.Credentials{}, false
	}
	if entry.credentials.CanExpire && time.Now().After(entry.credentials.Expires) {
		c.lru.Remove(providerID)
		return aws.Credentials{}, false
	}
	return entry.credentials, true
}

// Put stores credentials with the fingerprint they were resolved under.
func (c *Cache) Put(providerID, fingerprint string, creds aws.Credentials) {
	c.lru.Add(providerID, cacheEntry{credentials: creds, fingerprint: fingerprint})
}

// Invalidate drops the entry for providerID.
func (c *Cache) Invalidate(providerID string) {
	c.lru.Remove(providerID)
}
