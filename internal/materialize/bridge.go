package materialize

import "context"

// Catalog is the narrow slice of the external metadata service the
// manager depends on: creating and dropping the physical tables that
// back materialized handles. Modeled as a narrow interface with a
// reference implementation, rather than a concrete struct, so a
// planner can substitute its own catalog client.
type Catalog interface {
	// CreateTable provisions a new backing table for fp and returns its
	// fully-qualified name.
	CreateTable(ctx context.Context, fp Fingerprint) (string, error)
	// DropTable removes a previously created backing table. Called at
	// most once per table the manager ever created for it.
	DropTable(ctx context.Context, table string) error
}

// ValidityMonitor answers whether a fingerprint's materialization is
// still valid with respect to the underlying base tables, and tracks
// which fingerprints it should be watching in the first place.
type ValidityMonitor interface {
	// Register declares interest in table's source tables on behalf of
	// fp. Called once, at Put, before the handle is reachable.
	Register(ctx context.Context, fp Fingerprint, table string) error
	// Unregister withdraws interest. Called exactly once per handle,
	// immediately before its backing table is dropped.
	Unregister(ctx context.Context, fp Fingerprint, table string) error
	// IsValid reports whether fp's materialization still reflects its
	// source tables. The manager consults it on every Lookup before
	// granting a pin; a handle found invalid is invalidated rather
	// than returned.
	IsValid(ctx context.Context, fp Fingerprint) (bool, error)
}

// Session represents one query-execution task's use of a materialized
// handle. Lookup returns one, and its caller must call Release exactly
// once; WithLookup calls Release for its caller on every exit path,
// including panics.
type Session interface {
	Handle() *Handle
	Release()
}

// SessionFactory constructs a Session wrapping a pinned handle that has
// already been obtained from the manager.
type SessionFactory interface {
	NewSession(h *Handle, done func()) Session
}

type session struct {
	h    *Handle
	done func()
}

func (s *session) Handle() *Handle { return s.h }
func (s *session) Release()        { s.done() }

// defaultSessionFactory is the manager's built-in SessionFactory,
// sufficient for in-process use; a planner embedding this package can
// supply its own (e.g. to attach tracing spans) via Manager options.
type defaultSessionFactory struct{}

func (defaultSessionFactory) NewSession(h *Handle, done func()) Session {
	return &session{h: h, done: done}
}
