package materialize

import "errors"

var (
	// ErrNotFound is returned by Lookup when no valid handle is indexed
	// for the requested fingerprint.
	ErrNotFound = errors.New("materialize: no cached materialization for fingerprint")
	// ErrDisabled is returned by Lookup, WithLookup and Put while the
	// manager has not been marked ready. The other manager operations do
	// not check readiness.
	ErrDisabled = errors.New("materialize: manager not ready")
	// ErrOverweight is returned by Put when dataSize alone exceeds
	// maxSize, since no amount of eviction could ever admit it.
	ErrOverweight = errors.New("materialize: entry exceeds maximum cache size")
)
