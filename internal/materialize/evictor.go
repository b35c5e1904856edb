package materialize

import (
	"time"

	"github.com/google/btree"
)

// candidate is one indexed handle ranked for possible eviction.
type candidate struct {
	fp Fingerprint
	h  *Handle

	// Captured once at ranking time so the btree's ordering cannot
	// shift under a concurrent touch() while candidates are being
	// compared.
	runtime        time.Duration
	accessCount    uint64
	dataSize       int64
	lastAccessTime int64
}

// less orders candidates cheapest-to-lose-first: shortest rebuild
// runtime, then fewest accesses, then smallest size, then stalest
// access time, ascending on every tie.
func (c candidate) less(other candidate) bool {
	if c.runtime != other.runtime {
		return c.runtime < other.runtime
	}
	if c.accessCount != other.accessCount {
		return c.accessCount < other.accessCount
	}
	if c.dataSize != other.dataSize {
		return c.dataSize < other.dataSize
	}
	if c.lastAccessTime != other.lastAccessTime {
		return c.lastAccessTime < other.lastAccessTime
	}
	// Break remaining ties on fingerprint identity so the btree never
	// treats two distinct candidates as equal and silently drops one.
	return c.fp < other.fp
}

// Evictor selects victims to bring currentSize back within budget,
// preferring the handles that are cheapest to recompute and least
// used.
type Evictor struct {
	index *CacheIndex
}

// NewEvictor builds an Evictor over index.
func NewEvictor(index *CacheIndex) *Evictor {
	return &Evictor{index: index}
}

// SelectVictims ranks every unpinned, committed handle currently in the
// index and returns fingerprints to remove, stopping as soon as their
// combined dataSize covers deficit. It never selects a pinned handle or
// an uncommitted one: a handle mid-admission is not yet eligible for
// eviction.
func (e *Evictor) SelectVictims(deficit int64) []Fingerprint {
	if deficit <= 0 {
		return nil
	}

	tree := btree.NewG(32, candidate.less)
	e.index.Walk(func(fp Fingerprint, h *Handle) {
		if !h.Committed() || h.pinned() {
			return
		}
		tree.ReplaceOrInsert(candidate{
			fp:             fp,
			h:              h,
			runtime:        h.Runtime(),
			accessCount:    h.AccessCount(),
			dataSize:       h.DataSize(),
			lastAccessTime: h.LastAccessTime(),
		})
	})

	var victims []Fingerprint
	var freed int64
	tree.Ascend(func(c candidate) bool {
		if freed >= deficit {
			return false
		}
		victims = append(victims, c.fp)
		freed += c.dataSize
		return true
	})
	return victims
}
