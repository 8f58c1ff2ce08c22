// Package dtrcache caches the Digital Twin Registry offerings discovered per
// business partner. A shard holds every DTR of one BPN and expires as a
// whole; expiry triggers re-discovery, never silent eviction.
package dtrcache

import (
	"sync"
	"time"

	"github.com/eclipse-tractusx/dtr-discovery-service/pkg/types"
)

// DefaultExpiration is how long a shard stays fresh.
const DefaultExpiration = time.Hour

type shard struct {
	refreshAt time.Time
	dtrs      map[string]types.DTR
}

// Cache is the thread-safe per-BPN DTR cache.
type Cache struct {
	mu     sync.RWMutex
	shards map[types.BPN]*shard
	ttl    time.Duration
	now    func() time.Time
}

// CacheOption configures the cache.
type CacheOption func(*Cache)

// WithExpiration overrides the shard TTL.
func WithExpiration(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithClock substitutes the time source. Tests use it to force expiry.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an empty DTR cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		shards: map[types.BPN]*shard{},
		ttl:    DefaultExpiration,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add records a DTR for the BPN. Adding an asset id already present in the
// shard is a no-op; either way the shard's expiry is refreshed.
func (c *Cache) Add(bpn types.BPN, connectorURL, assetID string, policies []types.Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.shards[bpn]
	if !ok {
		s = &shard{dtrs: map[string]types.DTR{}}
		c.shards[bpn] = s
	}
	s.refreshAt = c.now().Add(c.ttl)
	if _, exists := s.dtrs[assetID]; exists {
		return
	}
	s.dtrs[assetID] = types.DTR{
		ConnectorURL: connectorURL,
		AssetID:      assetID,
		Policies:     types.DeepCopyJSON(policies),
	}
}

// GetByAssetID returns a deep copy of the entry, or false when the BPN or
// asset is unknown.
func (c *Cache) GetByAssetID(bpn types.BPN, assetID string) (types.DTR, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return types.DTR{}, false
	}
	dtr, ok := s.dtrs[assetID]
	if !ok {
		return types.DTR{}, false
	}
	return types.DeepCopyJSON(dtr), true
}

// List returns deep copies of every entry of the BPN.
func (c *Cache) List(bpn types.BPN) []types.DTR {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return nil
	}
	dtrs := make([]types.DTR, 0, len(s.dtrs))
	for _, dtr := range s.dtrs {
		dtrs = append(dtrs, types.DeepCopyJSON(dtr))
	}
	return dtrs
}

// Delete removes one entry. The shard stays, expiry untouched.
func (c *Cache) Delete(bpn types.BPN, assetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.shards[bpn]; ok {
		delete(s.dtrs, assetID)
	}
}

// PurgeBPN drops the whole shard of a BPN.
func (c *Cache) PurgeBPN(bpn types.BPN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shards, bpn)
}

// PurgeAll drops every shard.
func (c *Cache) PurgeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shards = map[types.BPN]*shard{}
}

// IsExpired reports whether the BPN needs re-discovery: it has no shard or
// the shard's refresh time has passed.
func (c *Cache) IsExpired(bpn types.BPN) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return true
	}
	return !c.now().Before(s.refreshAt)
}

// IsKnown reports whether the BPN has a shard, expired or not.
func (c *Cache) IsKnown(bpn types.BPN) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.shards[bpn]
	return ok
}

// DTRCount returns the number of entries cached for the BPN.
func (c *Cache) DTRCount(bpn types.BPN) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if s, ok := c.shards[bpn]; ok {
		return len(s.dtrs)
	}
	return 0
}

// AssetIDs returns the asset ids cached for the BPN.
func (c *Cache) AssetIDs(bpn types.BPN) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(s.dtrs))
	for id := range s.dtrs {
		ids = append(ids, id)
	}
	return ids
}

// ConnectorURLs returns the distinct connector URLs of the BPN's entries.
func (c *Cache) ConnectorURLs(bpn types.BPN) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var urls []string
	for _, dtr := range s.dtrs {
		if !seen[dtr.ConnectorURL] {
			seen[dtr.ConnectorURL] = true
			urls = append(urls, dtr.ConnectorURL)
		}
	}
	return urls
}

// DTRsByConnector groups the BPN's entries by connector URL, deep copied.
func (c *Cache) DTRsByConnector(bpn types.BPN) map[string][]types.DTR {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.shards[bpn]
	if !ok {
		return nil
	}
	grouped := map[string][]types.DTR{}
	for _, dtr := range s.dtrs {
		grouped[dtr.ConnectorURL] = append(grouped[dtr.ConnectorURL], types.DeepCopyJSON(dtr))
	}
	return grouped
}
