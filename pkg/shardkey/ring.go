// Package shardkey turns an application-level key into a sharding.ShardId
// via consistent hashing with virtual nodes — an optional convenience on
// top of sharding.ShardSet, never folded into the core dispatch
// primitives (spec.md §9's ShardKey/ShardChild collapse decision).
package shardkey

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"

	"github.com/shardkit/shardkit/pkg/sharding"
)

// HashFunction maps a string key onto a 64-bit space.
type HashFunction interface {
	Hash(key string) uint64
}

// Murmur3Hash implements HashFunction via murmur3.
type Murmur3Hash struct{}

func (Murmur3Hash) Hash(key string) uint64 {
	h := murmur3.New64()
	h.Write([]byte(key))
	return h.Sum64()
}

// XXHash implements HashFunction via xxhash.
type XXHash struct{}

func (XXHash) Hash(key string) uint64 { return xxhash.Sum64String(key) }

// NewHashFunction resolves a HashFunction by name, defaulting to murmur3.
func NewHashFunction(name string) HashFunction {
	switch name {
	case "xxhash":
		return XXHash{}
	default:
		return Murmur3Hash{}
	}
}

type vnode struct {
	hash  uint64
	shard sharding.ShardId
}

// Ring is a consistent hash ring with virtual nodes per shard.
type Ring struct {
	mu       sync.RWMutex
	hashFunc HashFunction
	vnodes   []vnode
}

// NewRing builds an empty ring using hashFunc.
func NewRing(hashFunc HashFunction) *Ring {
	if hashFunc == nil {
		hashFunc = Murmur3Hash{}
	}
	return &Ring{hashFunc: hashFunc}
}

// AddShard adds a shard to the ring with vnodeCount virtual nodes.
func (r *Ring) AddShard(shard sharding.ShardId, vnodeCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < vnodeCount; i++ {
		key := string(shard) + "-vnode-" + strconv.Itoa(i)
		r.vnodes = append(r.vnodes, vnode{hash: r.hashFunc.Hash(key), shard: shard})
	}
	r.sortLocked()
}

// RemoveShard removes a shard and all its virtual nodes.
func (r *Ring) RemoveShard(shard sharding.ShardId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.vnodes[:0]
	for _, v := range r.vnodes {
		if v.shard != shard {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// ShardFor returns the shard owning key, by walking clockwise from key's
// hash to the nearest virtual node. The zero ShardId is returned for an
// empty ring.
func (r *Ring) ShardFor(key string) sharding.ShardId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.vnodes) == 0 {
		return ""
	}
	h := r.hashFunc.Hash(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if idx == len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].shard
}

// Shards returns the distinct shard ids currently in the ring.
func (r *Ring) Shards() []sharding.ShardId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[sharding.ShardId]struct{})
	out := make([]sharding.ShardId, 0)
	for _, v := range r.vnodes {
		if _, ok := seen[v.shard]; !ok {
			seen[v.shard] = struct{}{}
			out = append(out, v.shard)
		}
	}
	return out
}

func (r *Ring) sortLocked() {
	sort.Slice(r.vnodes, func(i, j int) bool { return r.vnodes[i].hash < r.vnodes[j].hash })
}
