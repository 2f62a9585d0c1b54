// Package dircache implements the per-process cache context (component F):
// a cache of path to (subspace, validation-chain) bindings shared by every
// transaction opened against one Directory Layer instance, with the
// negative-cache and value-check protocol that lets a hit skip a tree
// traversal while remaining strictly serialisable.
//
// Grounded on the teacher's internal/metrics "read, populate on miss, share
// across callers" pattern combined with golang-lru/v2 (an ecosystem
// dependency the teacher's own caches never needed but the pack's library
// surface supplies) for the bounded positive side and golang.org/x/sync's
// singleflight for miss collapsing. The unbounded negative side is a plain
// map: every access already goes through Cache.mu, so there is no
// concurrent-map need the teacher's own xxhash-backed util.HashMap would
// serve here that a builtin map guarded by the existing lock doesn't.
package dircache

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/dirlayer/fdbdirectory/dirpath"
	"github.com/dirlayer/fdbdirectory/kv"
	"github.com/dirlayer/fdbdirectory/metrics"
	"github.com/dirlayer/fdbdirectory/node"
	"github.com/dirlayer/fdbdirectory/partition"
	"github.com/dirlayer/fdbdirectory/txnstate"
)

const defaultPositiveCapacity = 4096

// Cache is the per-process cache context. One Cache is shared by every
// transaction a Directory Layer instance opens.
type Cache struct {
	mu       sync.RWMutex
	positive *lru.Cache[string, node.Node]
	negative map[string][]node.ValidationPair
	group    singleflight.Group
	metrics  *metrics.Registry
}

// New returns an empty cache context with room for positiveCapacity
// positive entries. Negative entries are unbounded, matching the spec's
// treatment of absence as a cheap, legal cache state. reg may be nil, in
// which case hit/miss/eviction counters are simply not reported.
func New(positiveCapacity int, reg *metrics.Registry) *Cache {
	if positiveCapacity <= 0 {
		positiveCapacity = defaultPositiveCapacity
	}
	l, err := lru.New[string, node.Node](positiveCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which cannot
		// happen given the guard above.
		panic(err)
	}
	return &Cache{
		positive: l,
		negative: make(map[string][]node.ValidationPair),
		metrics:  reg,
	}
}

// Lookup resolves path, consulting the cache when the transaction's mode
// permits it. It always returns a Node, whether by cache hit or by running
// the finder; a miss is stored before returning.
func Lookup(ctx context.Context, c *Cache, state *txnstate.State, db kv.Database, tr kv.Transaction, rootPartition *partition.Descriptor, path dirpath.Path) (node.Node, error) {
	if !state.EnterCached() {
		// Already MUTATED: caching is disabled for this transaction: fall
		// through to a plain finder read.
		return node.Find(ctx, tr, rootPartition, path)
	}

	if db.FailedValueCheckFromPreviousAttempt(tr) {
		c.purge()
	}

	mv, err := tr.GetMetadataVersionKey(ctx)
	if err != nil {
		return node.Node{}, err
	}
	if mv == nil {
		// Touched earlier in this same transaction: the stamp it would have
		// validated against is not yet assigned, so bypass the cache for
		// this attempt without discarding it.
		return node.Find(ctx, tr, rootPartition, path)
	}

	key := path.Format()

	if n, ok := c.getPositive(key); ok {
		c.metrics.CacheHit()
		attachChain(db, tr, n.Chain)
		return n, nil
	}
	if chain, ok := c.getNegative(key); ok {
		c.metrics.CacheHit()
		attachChain(db, tr, chain)
		return node.Node{Exists: false, Chain: chain}, nil
	}

	c.metrics.CacheMiss()
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		return node.Find(ctx, tr, rootPartition, path)
	})
	if err != nil {
		return node.Node{}, err
	}
	n := result.(node.Node)

	if n.Exists {
		c.putPositive(key, n)
	} else {
		c.putNegative(key, n.Chain)
	}
	attachChain(db, tr, n.Chain)
	return n, nil
}

func attachChain(db kv.Database, tr kv.Transaction, chain []node.ValidationPair) {
	for _, p := range chain {
		db.AddValueCheck(tr, p.Key, p.Value)
	}
}

func (c *Cache) getPositive(key string) (node.Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.positive.Get(key)
}

func (c *Cache) putPositive(key string, n node.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive.Add(key, n)
	delete(c.negative, key)
}

func (c *Cache) getNegative(key string) ([]node.ValidationPair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	chain, ok := c.negative[key]
	return chain, ok
}

func (c *Cache) putNegative(key string, chain []node.ValidationPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negative[key] = chain
}

// purge discards every entry in the cache. Used when the previous attempt's
// value checks failed: the spec permits either a full discard or a
// targeted purge of the offending entry; a full discard is simpler and
// cheap relative to re-running a transaction anyway.
func (c *Cache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positive.Purge()
	c.negative = make(map[string][]node.ValidationPair)
}

// Evict removes path and every cached descendant of path from both the
// positive and negative sides, per the mutation-time eviction rule: any
// mutation to path P evicts every entry whose path is P or under P.
func (c *Cache) Evict(path dirpath.Path) {
	c.metrics.CacheEviction()
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range c.positive.Keys() {
		if isPathOrDescendant(k, path) {
			c.positive.Remove(k)
		}
	}

	for k := range c.negative {
		if isPathOrDescendant(k, path) {
			delete(c.negative, k)
		}
	}
}

func isPathOrDescendant(key string, path dirpath.Path) bool {
	p, err := dirpath.Parse(key)
	if err != nil {
		return false
	}
	return p.Equal(path) || p.IsChildOf(path)
}
