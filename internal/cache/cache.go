// Package cache is the gateway's method-aware TTL response cache: bounded
// size, eviction by earliest expiry, and state-change invalidation by
// key-substring match.
//
// The bounded store is backed by hashicorp/golang-lru/v2 (a dependency
// carried in from the retrieval pack's dep2p-go-dep2p module), which gives
// a concurrency-safe map with O(1) get/set/remove; this package layers TTL
// semantics, the specification's earliest-expiry eviction policy (which
// differs from the library's own LRU eviction, so capacity is enforced
// here rather than by the library), and invalidation on top of it.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"avax-rpc-gateway/internal/metrics"
)

// Config holds the cache's tunables.
type Config struct {
	MaxEntries    int
	SweepInterval time.Duration
	TTLOverrides  map[string]time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:    10000,
		SweepInterval: 60 * time.Second,
	}
}

type entry struct {
	method    string
	payload   json.RawMessage
	expiresAt time.Time
}

// Cache is the response cache component.
type Cache struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	mu    sync.Mutex // guards store for capacity eviction and iteration
	store *lru.Cache[string, *entry]

	statsMu       sync.Mutex
	hits, misses  uint64
	evictions     uint64
	perMethodHits map[string]uint64
	perMethodMiss map[string]uint64
}

// New constructs a Cache. The backing lru.Cache is sized generously beyond
// MaxEntries since capacity is enforced here, by earliest-expiry, not by
// the library's own LRU policy.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	capacity := cfg.MaxEntries*2 + 16
	store, _ := lru.New[string, *entry](capacity)
	return &Cache{
		cfg:           cfg,
		clock:         clk,
		log:           log,
		store:         store,
		perMethodHits: make(map[string]uint64),
		perMethodMiss: make(map[string]uint64),
	}
}

// Get looks up a single request's response. Expired entries are evicted
// lazily and reported as a miss.
func (c *Cache) Get(method string, key string) (json.RawMessage, bool) {
	c.mu.Lock()
	e, ok := c.store.Get(key)
	if ok && !c.clock.Now().Before(e.expiresAt) {
		c.store.Remove(key)
		ok = false
	}
	c.mu.Unlock()

	c.recordLookup(method, ok)
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// Set inserts a response for a single cacheable request.
func (c *Cache) Set(method, key string, payload json.RawMessage, ttl time.Duration) {
	c.mu.Lock()
	c.store.Add(key, &entry{method: method, payload: payload, expiresAt: c.clock.Now().Add(ttl)})
	c.enforceCapacityLocked()
	size := c.store.Len()
	c.mu.Unlock()
	metrics.CacheSize.Set(float64(size))
}

// enforceCapacityLocked must be called with c.mu held. It evicts the entry
// with the earliest expiresAt until the store is back within MaxEntries.
func (c *Cache) enforceCapacityLocked() {
	for c.store.Len() > c.cfg.MaxEntries {
		var victim string
		var earliest time.Time
		first := true
		for _, k := range c.store.Keys() {
			v, ok := c.store.Peek(k)
			if !ok {
				continue
			}
			if first || v.expiresAt.Before(earliest) {
				victim, earliest, first = k, v.expiresAt, false
			}
		}
		if first {
			return
		}
		c.store.Remove(victim)
		c.statsMu.Lock()
		c.evictions++
		c.statsMu.Unlock()
		metrics.CacheEvictionsTotal.Inc()
	}
}

func (c *Cache) recordLookup(method string, hit bool) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if hit {
		c.hits++
		c.perMethodHits[method]++
		metrics.CacheHitsTotal.WithLabelValues(method).Inc()
	} else {
		c.misses++
		c.perMethodMiss[method]++
		metrics.CacheMissesTotal.WithLabelValues(method).Inc()
	}
}

// InvalidateOnStateChange removes every cache entry whose key contains one
// of the substrings associated with a state-changing trigger method.
func (c *Cache) InvalidateOnStateChange(method string) {
	subs := invalidationTargets(method)
	if len(subs) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.store.Keys() {
		for _, s := range subs {
			if strings.Contains(k, s) {
				c.store.Remove(k)
				break
			}
		}
	}
}

// invalidationTargets maps a trigger method to the substrings of cache keys
// it invalidates, per §4.6.
func invalidationTargets(method string) []string {
	switch {
	case method == "eth_sendTransaction" || method == "eth_sendRawTransaction":
		return []string{"eth_getBalance", "eth_getTransactionCount", "eth_call"}
	case method == "personal_sendTransaction":
		return []string{"eth_getBalance", "eth_getTransactionCount"}
	case method == "avax_issueTx":
		return []string{"avax_getPendingTxs", "avax_getAtomicTxStatus"}
	default:
		return nil
	}
}

// Sweep removes every entry whose expiresAt has passed. Call periodically.
func (c *Cache) Sweep() {
	c.mu.Lock()
	now := c.clock.Now()
	var expired []string
	for _, k := range c.store.Keys() {
		v, ok := c.store.Peek(k)
		if ok && !now.Before(v.expiresAt) {
			expired = append(expired, k)
		}
	}
	for _, k := range expired {
		c.store.Remove(k)
	}
	size := c.store.Len()
	c.mu.Unlock()
	metrics.CacheSize.Set(float64(size))
}

// StartSweeper launches the periodic expiry sweep; stops when ctx is
// cancelled.
func (c *Cache) StartSweeper(ctx context.Context) {
	ticker := c.clock.Ticker(c.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Metrics is the getMetrics() projection from §4.6, with a computed hit
// rate and the configured (not observed) maxEntries -- per §9's note that
// reporting metrics.size there is a bug in the source this was distilled
// from.
type Metrics struct {
	Hits           uint64            `json:"hits"`
	Misses         uint64            `json:"misses"`
	Evictions      uint64            `json:"evictions"`
	Size           int               `json:"size"`
	MaxEntries     int               `json:"maxEntries"`
	HitRate        float64           `json:"hitRate"`
	PerMethodHits  map[string]uint64 `json:"perMethodHits"`
	PerMethodMiss  map[string]uint64 `json:"perMethodMisses"`
}

func (c *Cache) GetMetrics() Metrics {
	c.statsMu.Lock()
	hits, misses, evictions := c.hits, c.misses, c.evictions
	perHit := make(map[string]uint64, len(c.perMethodHits))
	for k, v := range c.perMethodHits {
		perHit[k] = v
	}
	perMiss := make(map[string]uint64, len(c.perMethodMiss))
	for k, v := range c.perMethodMiss {
		perMiss[k] = v
	}
	c.statsMu.Unlock()

	c.mu.Lock()
	size := c.store.Len()
	c.mu.Unlock()

	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Metrics{
		Hits:          hits,
		Misses:        misses,
		Evictions:     evictions,
		Size:          size,
		MaxEntries:    c.cfg.MaxEntries,
		HitRate:       rate,
		PerMethodHits: perHit,
		PerMethodMiss: perMiss,
	}
}
