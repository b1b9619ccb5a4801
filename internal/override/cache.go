package override

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gapt-edu/gapt/internal/shared"
)

// DefaultCacheSize bounds the unlocked-request cache when no size is configured.
const DefaultCacheSize = 1024

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gapt_override_cache_hits_total",
		Help: "Unlocked override lookups answered from memory.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gapt_override_cache_misses_total",
		Help: "Unlocked override lookups that went to storage.",
	})
)

// unlockedCache remembers fully granted requests. Approvals never revert, so
// an entry cannot go stale; eviction only costs a storage round-trip.
type unlockedCache struct {
	lru *lru.Cache[key, Request]
}

func newUnlockedCache(size int) *unlockedCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[key, Request](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &unlockedCache{lru: c}
}

func (c *unlockedCache) get(requesterID string, day shared.Day) (Request, bool) {
	req, ok := c.lru.Get(keyOf(requesterID, day))
	if ok {
		cacheHits.Inc()
		return req, true
	}
	cacheMisses.Inc()
	return Request{}, false
}

func (c *unlockedCache) remember(req Request) {
	if !req.FullyGranted() {
		return
	}
	c.lru.Add(keyOf(req.RequesterID, req.Day), req)
}

func (c *unlockedCache) len() int {
	return c.lru.Len()
}
