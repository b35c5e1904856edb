package materialize

import "sync"

// pendingDelete tracks handles that have left the CacheIndex while
// still pinned: a fingerprint can have more than one such handle in
// flight at once (one being drained by late readers while a fresher
// one is already indexed), so the inner key is the handle's createTime
// rather than the handle itself.
type pendingDelete struct {
	mu      sync.Mutex
	entries map[Fingerprint]map[int64]*Handle
}

func newPendingDelete() *pendingDelete {
	return &pendingDelete{entries: make(map[Fingerprint]map[int64]*Handle)}
}

// park records h as awaiting drop once its last holder releases it.
// Called from markRemoved with h.mu held; p.mu therefore nests inside
// h.mu and must never be taken the other way around.
func (p *pendingDelete) park(h *Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTime, ok := p.entries[h.Identifier()]
	if !ok {
		byTime = make(map[int64]*Handle)
		p.entries[h.Identifier()] = byTime
	}
	byTime[h.CreateTime()] = h
}

// get returns the parked handle for (fp, createTime), if any.
func (p *pendingDelete) get(fp Fingerprint, createTime int64) (*Handle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTime, ok := p.entries[fp]
	if !ok {
		return nil, false
	}
	h, ok := byTime[createTime]
	return h, ok
}

// forget removes h from the parked set, e.g. once its backing table has
// been dropped. Returns false if h was not parked under its fingerprint
// and createTime, which can happen if two callers race to forget the
// same handle.
func (p *pendingDelete) forget(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	byTime, ok := p.entries[h.Identifier()]
	if !ok {
		return false
	}
	if _, ok := byTime[h.CreateTime()]; !ok {
		return false
	}
	delete(byTime, h.CreateTime())
	if len(byTime) == 0 {
		delete(p.entries, h.Identifier())
	}
	return true
}

// Len reports how many handles are currently parked.
func (p *pendingDelete) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, byTime := range p.entries {
		n += len(byTime)
	}
	return n
}
