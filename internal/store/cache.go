package store

import (
	"time"

	"github.com/cespare/xxhash/v2"
	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// DiffCache memoizes computed deltas per version pair. Versions are
// immutable and content-addressed, so a (repo, hashA, hashB) triple fully
// identifies a diff result and the cache never needs invalidation beyond
// LRU eviction and TTL.
type DiffCache struct {
	lru *expirable.LRU[uint64, []FieldDelta]
}

// NewDiffCache creates a cache holding up to size diff results for ttl.
func NewDiffCache(size int, ttl time.Duration) *DiffCache {
	if size <= 0 {
		size = 256
	}
	return &DiffCache{
		lru: expirable.NewLRU[uint64, []FieldDelta](size, nil, ttl),
	}
}

// Get returns the cached deltas for a version pair.
func (c *DiffCache) Get(repo, hashA, hashB string) ([]FieldDelta, bool) {
	return c.lru.Get(diffKey(repo, hashA, hashB))
}

// Put stores deltas for a version pair.
func (c *DiffCache) Put(repo, hashA, hashB string, deltas []FieldDelta) {
	c.lru.Add(diffKey(repo, hashA, hashB), deltas)
}

func diffKey(repo, hashA, hashB string) uint64 {
	d := xxhash.New()
	d.WriteString(repo)
	d.WriteString("|")
	d.WriteString(hashA)
	d.WriteString("|")
	d.WriteString(hashB)
	return d.Sum64()
}
