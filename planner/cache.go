package planner

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/exanet/tnengine/network"
)

// CanonicalHash computes a structural hash of a finalized network that is
// invariant to vertex-id renumbering: it hashes the multiset of
// (sorted-shape, sorted-adjacency-shape) fingerprints rather than raw ids,
// so two structurally identical networks built in a different vertex
// creation order hash identically.
func CanonicalHash(n *network.TensorNetwork) uint64 {
	type fingerprint struct {
		shape     []uint64
		neighbors []uint64 // sorted extents of connected legs
	}
	var prints []fingerprint
	for _, id := range n.VertexIDs() {
		v, err := n.Vertex(id)
		if err != nil {
			continue
		}
		fp := fingerprint{shape: append([]uint64(nil), v.Shape...)}
		for dim, l := range v.Legs {
			if l.AdjVertex >= 0 {
				fp.neighbors = append(fp.neighbors, v.Shape[dim])
			}
		}
		sort.Slice(fp.neighbors, func(a, b int) bool { return fp.neighbors[a] < fp.neighbors[b] })
		prints = append(prints, fp)
	}
	sort.Slice(prints, func(a, b int) bool {
		if len(prints[a].shape) != len(prints[b].shape) {
			return len(prints[a].shape) < len(prints[b].shape)
		}
		for i := range prints[a].shape {
			if prints[a].shape[i] != prints[b].shape[i] {
				return prints[a].shape[i] < prints[b].shape[i]
			}
		}
		return len(prints[a].neighbors) < len(prints[b].neighbors)
	})

	h := xxhash.New()
	var buf [8]byte
	writeU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	for _, fp := range prints {
		writeU64(uint64(len(fp.shape)))
		for _, d := range fp.shape {
			writeU64(d)
		}
		writeU64(uint64(len(fp.neighbors)))
		for _, d := range fp.neighbors {
			writeU64(d)
		}
	}
	return h.Sum64()
}

// Cache is an in-memory plan cache keyed by (canonical hash, algorithm).
// A DiskCache built on top of it persists entries as zstd-compressed
// blobs; see cache_disk.go.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]*Plan
	hits    int64
	misses  int64
}

type cacheKey struct {
	hash uint64
	algo Algorithm
}

// NewCache constructs an empty plan cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]*Plan)}
}

// Get returns a cached plan for the network's canonical hash under the
// given algorithm, if present.
func (c *Cache) Get(n *network.TensorNetwork, algo Algorithm) (*Plan, bool) {
	key := cacheKey{hash: CanonicalHash(n), algo: algo}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return p, ok
}

// Put stores a plan under the network's canonical hash and algorithm.
func (c *Cache) Put(n *network.TensorNetwork, algo Algorithm, plan *Plan) {
	key := cacheKey{hash: CanonicalHash(n), algo: algo}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = plan
}

// Stats reports cumulative hit/miss counts.
type CacheStats struct {
	Hits, Misses int64
}

// Stats returns a defensive copy of the cache's hit/miss counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Hits: c.hits, Misses: c.misses}
}

// ComputeCached calls Compute, consulting and populating cache first.
func ComputeCached(cache *Cache, n *network.TensorNetwork, opts Options) (*Plan, error) {
	if plan, ok := cache.Get(n, opts.Algorithm); ok {
		return plan, nil
	}
	plan, err := Compute(n, opts)
	if err != nil {
		return nil, err
	}
	cache.Put(n, opts.Algorithm, plan)
	return plan, nil
}
