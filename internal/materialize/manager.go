package materialize

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"ctecache/internal/logging"
)

// Manager is the public façade over CacheIndex, the handle lifecycle,
// and the Evictor: the single entry point a query planner uses to
// look up, produce, commit, and invalidate materializations. It is
// startup-gated: nothing is served until SetReady has been called.
type Manager struct {
	index   *CacheIndex
	pending *pendingDelete
	evictor *Evictor

	catalog  Catalog
	monitor  ValidityMonitor
	sessions SessionFactory

	maxSize     int64
	currentSize int64

	ready atomic.Bool

	metrics *metricsSink
	log     *logging.Logger
}

// ManagerOption customizes a Manager at construction time.
type ManagerOption func(*Manager)

// WithSessionFactory overrides the default Session implementation, for
// callers that want to attach their own bookkeeping (tracing spans,
// deadlines) to every lease.
func WithSessionFactory(f SessionFactory) ManagerOption {
	return func(m *Manager) { m.sessions = f }
}

// NewManager builds a Manager over catalog and monitor, bounded to
// maxSize total dataSize, sharding its index into shardCount shards.
func NewManager(catalog Catalog, monitor ValidityMonitor, log *logging.Logger, maxSize int64, shardCount int, opts ...ManagerOption) *Manager {
	m := &Manager{
		pending:  newPendingDelete(),
		catalog:  catalog,
		monitor:  monitor,
		sessions: defaultSessionFactory{},
		maxSize:  maxSize,
		metrics:  newMetricsSink(),
		log:      log,
	}
	m.index = NewCacheIndex(shardCount, m.decideRemoval)
	m.evictor = NewEvictor(m.index)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsEnabled reports whether the manager will currently serve requests.
func (m *Manager) IsEnabled() bool { return m.ready.Load() }

// SetReady flips the manager's availability gate. While ready is false,
// Lookup, WithLookup and Put return ErrDisabled. Commit, Done,
// Invalidate, InvalidateAll, Walk and WalkAll do not check the gate and
// act on the index as usual.
func (m *Manager) SetReady(ready bool) { m.ready.Store(ready) }

// CurrentSize reports the sum of dataSize across every committed
// handle currently indexed.
func (m *Manager) CurrentSize() int64 { return atomic.LoadInt64(&m.currentSize) }

// MaxSize reports the configured budget.
func (m *Manager) MaxSize() int64 { return m.maxSize }

// PendingCount reports how many handles are currently parked awaiting
// their last holder's release.
func (m *Manager) PendingCount() int { return m.pending.Len() }

// Lookup consults the validity monitor and, if fp's materialization is
// still valid and committed, returns a pinned Session over it. The
// caller must call Session.Release exactly once.
func (m *Manager) Lookup(ctx context.Context, fp Fingerprint) (Session, error) {
	if !m.IsEnabled() {
		return nil, ErrDisabled
	}

	h, ok := m.index.Grab(fp)
	if ok && !h.Committed() {
		// Data is still being materialized by its producer; not yet
		// safe to hand out.
		m.release(h)
		ok = false
	}
	if !ok {
		m.metrics.miss()
		return nil, ErrNotFound
	}

	valid, err := m.monitor.IsValid(ctx, fp)
	if err != nil {
		// A monitor we cannot reach cannot vouch for freshness; treat
		// the entry as stale rather than serving unverifiable data.
		m.log.Warn(ctx, logging.ComponentMaterialize, logging.ActionValidation, "validity check failed, invalidating",
			map[string]interface{}{"fingerprint": string(fp), "error": err.Error()})
		valid = false
	}
	if !valid {
		m.release(h)
		m.Invalidate(ctx, []Fingerprint{fp})
		m.metrics.miss()
		return nil, ErrNotFound
	}

	h.touch()
	m.metrics.hit()
	return m.sessions.NewSession(h, func() { m.release(h) }), nil
}

// WithLookup runs fn with a leased handle for fp, guaranteeing the
// lease is released on every exit path — including a panic inside fn,
// via Go's defer-runs-during-panic semantics.
func (m *Manager) WithLookup(ctx context.Context, fp Fingerprint, fn func(h *Handle) error) error {
	sess, err := m.Lookup(ctx, fp)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(sess.Handle())
}

// Put provisions a new backing table for fp via the catalog and
// indexes an uncommitted handle for it, pinned on the caller's behalf.
// The caller must eventually call Commit (on success) — there is no
// separate abort path; a caller that fails to materialize the data
// should simply never commit, leaving the handle to be displaced by
// whichever Put eventually succeeds for fp.
func (m *Manager) Put(ctx context.Context, fp Fingerprint, dataSize int64, runtime time.Duration) (*Handle, error) {
	if !m.IsEnabled() {
		return nil, ErrDisabled
	}
	if dataSize > m.maxSize {
		return nil, ErrOverweight
	}

	table, err := m.catalog.CreateTable(ctx, fp)
	if err != nil {
		return nil, err
	}
	if err := m.monitor.Register(ctx, fp, table); err != nil {
		_ = m.catalog.DropTable(ctx, table)
		return nil, err
	}

	h := NewHandle(fp, table, dataSize, runtime)
	h.grab()
	if td := m.index.Insert(fp, h); td != nil {
		m.runTeardowns(ctx, []func(context.Context) error{td})
	}
	m.metrics.put()
	return h, nil
}

// Commit releases the producer's own pin taken by Put and, only if h
// is still the live indexed entry for its fingerprint, charges its
// weight, runs eviction if that pushes currentSize over budget, and
// marks h ready for lookups. A displaced h is only released; it is never
// marked committed. markCommitted happens last, after eviction has been
// considered, so h can never select itself as an eviction victim the
// moment it is committed.
func (m *Manager) Commit(ctx context.Context, h *Handle) error {
	current, ok := m.index.Get(h.Identifier())
	stillLive := ok && current == h

	m.release(h)
	m.metrics.commit()

	if !stillLive {
		return nil
	}

	if h.weighed.CompareAndSwap(false, true) {
		m.metrics.size(atomic.AddInt64(&m.currentSize, h.DataSize()))
	}

	if deficit := atomic.LoadInt64(&m.currentSize) - m.maxSize; deficit > 0 {
		victims := m.evictor.SelectVictims(deficit)
		if len(victims) > 0 {
			removed, teardowns := m.index.Invalidate(victims)
			for i := 0; i < removed; i++ {
				m.metrics.evict()
			}
			m.runTeardowns(ctx, teardowns)
		}
	}

	h.markCommitted()
	return nil
}

// Done drops one hold on the handle admitted under fp at createTime,
// whether it is still indexed or already parked awaiting its last
// release. An unknown (fp, createTime) pair is a late or duplicate
// release and is ignored. Callers holding a Session should prefer
// Session.Release, which resolves to the same operation without the
// re-keyed lookup.
func (m *Manager) Done(ctx context.Context, fp Fingerprint, createTime int64) {
	if h, ok := m.index.Get(fp); ok && h.CreateTime() == createTime {
		m.release(h)
		return
	}
	if h, ok := m.pending.get(fp, createTime); ok {
		m.release(h)
		return
	}
	m.log.Debug(ctx, logging.ComponentMaterialize, logging.ActionDone, "release for unknown handle ignored",
		map[string]interface{}{"fingerprint": string(fp), "create_time": createTime})
}

// Invalidate removes the given fingerprints, tearing down their
// backing tables immediately unless a lookup still holds them, in
// which case teardown is deferred to that holder's release.
func (m *Manager) Invalidate(ctx context.Context, fps []Fingerprint) {
	removed, teardowns := m.index.Invalidate(fps)
	for i := 0; i < removed; i++ {
		m.metrics.invalid()
	}
	m.runTeardowns(ctx, teardowns)
}

// InvalidateAll drops every currently indexed entry, running the
// catalog drops concurrently and aggregating any failures instead of
// letting the first one abort the rest.
func (m *Manager) InvalidateAll(ctx context.Context) error {
	teardowns := m.index.Clear()
	m.metrics.invalid()
	if len(teardowns) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs error
	)
	g, _ := errgroup.WithContext(ctx)
	for _, td := range teardowns {
		td := td
		g.Go(func() error {
			if err := td(ctx); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Walk applies fn to each of the given fingerprints that is currently
// indexed, skipping the rest.
func (m *Manager) Walk(fps []Fingerprint, fn func(Fingerprint, *Handle)) {
	for _, fp := range fps {
		if h, ok := m.index.Get(fp); ok {
			fn(fp, h)
		}
	}
}

// WalkAll applies fn to every currently indexed handle, for admin and
// diagnostic use.
func (m *Manager) WalkAll(fn func(Fingerprint, *Handle)) {
	m.index.Walk(fn)
}

// release drops one hold on h, tearing it down if that was the hold
// keeping a handle already removed from the index alive.
func (m *Manager) release(h *Handle) {
	if !h.releaseHeld() {
		return
	}
	m.pending.forget(h)
	if err := m.destroy(context.Background(), h); err != nil {
		m.log.Warn(context.Background(), logging.ComponentMaterialize, logging.ActionDrop,
			"drop backing table failed", map[string]interface{}{"table": h.DataTable(), "error": err.Error()})
	}
}

// decideRemoval is the CacheIndex RemovalHook. It runs inside the
// shard's critical section: the weight debit and the destroy-or-park
// decision are atomic with the entry's removal, so a concurrent keyed
// Done always finds the handle either still indexed or already parked.
// A displaced handle still pinned by its producer therefore survives
// displacement and is drained by that producer's own release. Catalog
// and monitor side effects happen in the returned teardown, after the
// index has let go of its locks.
func (m *Manager) decideRemoval(fp Fingerprint, h *Handle, reason RemovalReason) func(context.Context) error {
	if h.weighed.CompareAndSwap(true, false) {
		m.metrics.size(atomic.AddInt64(&m.currentSize, -h.DataSize()))
	}
	if !h.markRemoved(m.pending) {
		return nil
	}
	return func(ctx context.Context) error {
		if err := m.destroy(ctx, h); err != nil {
			return fmt.Errorf("fingerprint %s: %w", fp, err)
		}
		return nil
	}
}

// runTeardowns executes deferred removal teardowns, logging failures
// at warn: a failed catalog drop leaves an orphaned backing table, an
// operational concern rather than a cache correctness one.
func (m *Manager) runTeardowns(ctx context.Context, teardowns []func(context.Context) error) {
	for _, td := range teardowns {
		if err := td(ctx); err != nil {
			m.log.Warn(ctx, logging.ComponentMaterialize, logging.ActionDrop,
				"drop backing table failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// destroy unregisters h from the validity monitor and drops its
// backing table exactly once, guarded by h's own destroyed latch.
func (m *Manager) destroy(ctx context.Context, h *Handle) error {
	if !h.tryDestroy() {
		return nil
	}
	if err := m.monitor.Unregister(ctx, h.Identifier(), h.DataTable()); err != nil {
		m.log.Warn(ctx, logging.ComponentMaterialize, logging.ActionDrop, "monitor unregister failed",
			map[string]interface{}{"table": h.DataTable(), "error": err.Error()})
	}
	if err := m.catalog.DropTable(ctx, h.DataTable()); err != nil {
		m.metrics.dropFailed()
		return err
	}
	m.metrics.drop()
	return nil
}
