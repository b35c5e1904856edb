package materialize

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// RemovalHook is invoked exactly once whenever an entry leaves the
// CacheIndex, naming the fingerprint, the handle that left, and why.
// It runs inside the owning shard's critical section, in the same
// step that removes the entry, so the hook's destroy-or-park decision
// can never be observed half-done by a concurrent keyed release. The
// hook must therefore stay in-memory only; any catalog or monitor
// side effect belongs in the returned teardown, which the index's
// caller runs after every lock has been released. A nil teardown
// means nothing is left to do.
type RemovalHook func(fp Fingerprint, h *Handle, reason RemovalReason) (teardown func(context.Context) error)

type shard struct {
	mu      sync.RWMutex
	entries map[Fingerprint]*Handle
}

// CacheIndex is a sharded map from Fingerprint to the currently live
// Handle. It does no weight accounting of its own: Manager tracks
// currentSize and removes victims chosen by the Evictor. Sharding by
// xxhash of the fingerprint keeps a single mutex from becoming a
// bottleneck under many concurrent query-execution tasks.
type CacheIndex struct {
	shards []*shard
	hook   RemovalHook
}

// NewCacheIndex creates an index with shardCount shards (minimum 1),
// firing hook for every removal Insert/Invalidate/Clear produce.
func NewCacheIndex(shardCount int, hook RemovalHook) *CacheIndex {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]*shard, shardCount)
	for i := range shards {
		shards[i] = &shard{entries: make(map[Fingerprint]*Handle)}
	}
	return &CacheIndex{shards: shards, hook: hook}
}

func (c *CacheIndex) shardFor(fp Fingerprint) *shard {
	sum := xxhash.Sum64String(string(fp))
	return c.shards[sum%uint64(len(c.shards))]
}

// Get returns the currently indexed handle for fp, if any. It does not
// change refCount.
func (c *CacheIndex) Get(fp Fingerprint) (*Handle, bool) {
	s := c.shardFor(fp)
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.entries[fp]
	return h, ok
}

// Grab returns the currently indexed handle for fp, pinned, or ok=false
// if nothing is indexed. Holding the shard's read lock across the pin
// is what makes grab-through-lookup safe against a concurrent removal:
// Insert/Invalidate/Clear all require the shard's write lock, so a
// removal can never be decided mid-Grab.
func (c *CacheIndex) Grab(fp Fingerprint) (*Handle, bool) {
	s := c.shardFor(fp)
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.entries[fp]
	if !ok {
		return nil, false
	}
	h.grab()
	return h, true
}

// Insert makes h the indexed entry for fp. If an entry already existed
// for fp, the displaced entry fires the removal hook with reason
// ReasonReplaced; its fate is decided by its remaining holders, not by
// the displacement itself. The returned teardown, if any, is the
// displaced entry's and must be run by the caller.
func (c *CacheIndex) Insert(fp Fingerprint, h *Handle) (teardown func(context.Context) error) {
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.entries[fp]
	s.entries[fp] = h
	if existed && prev != h {
		return c.hook(fp, prev, ReasonReplaced)
	}
	return nil
}

// Invalidate removes each given fingerprint that is currently indexed,
// firing the removal hook with reason ReasonExplicit for each, and
// returns how many were actually removed along with their pending
// teardowns. Repeated invalidation of an already-absent fingerprint is
// a no-op.
func (c *CacheIndex) Invalidate(fps []Fingerprint) (removed int, teardowns []func(context.Context) error) {
	for _, fp := range fps {
		s := c.shardFor(fp)
		s.mu.Lock()
		h, ok := s.entries[fp]
		if ok {
			delete(s.entries, fp)
			if td := c.hook(fp, h, ReasonExplicit); td != nil {
				teardowns = append(teardowns, td)
			}
			removed++
		}
		s.mu.Unlock()
	}
	return removed, teardowns
}

// Clear empties every shard, firing the removal hook with reason
// ReasonExplicit for each entry while its shard is still locked, and
// returns the accumulated teardowns for the caller to run — callers
// that need bulk removal (Manager.InvalidateAll) can then drive the
// catalog drops concurrently instead of one at a time.
func (c *CacheIndex) Clear() []func(context.Context) error {
	var teardowns []func(context.Context) error
	for _, s := range c.shards {
		s.mu.Lock()
		for fp, h := range s.entries {
			if td := c.hook(fp, h, ReasonExplicit); td != nil {
				teardowns = append(teardowns, td)
			}
		}
		s.entries = make(map[Fingerprint]*Handle)
		s.mu.Unlock()
	}
	return teardowns
}

// Snapshot returns a point-in-time view of every indexed (fp, handle)
// pair, sufficient for the Evictor to rank candidates.
func (c *CacheIndex) Snapshot() map[Fingerprint]*Handle {
	out := make(map[Fingerprint]*Handle)
	for _, s := range c.shards {
		s.mu.RLock()
		for fp, h := range s.entries {
			out[fp] = h
		}
		s.mu.RUnlock()
	}
	return out
}

// Walk applies fn to every currently indexed entry.
func (c *CacheIndex) Walk(fn func(Fingerprint, *Handle)) {
	for _, s := range c.shards {
		s.mu.RLock()
		for fp, h := range s.entries {
			fn(fp, h)
		}
		s.mu.RUnlock()
	}
}

// Len reports the number of currently indexed entries.
func (c *CacheIndex) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
