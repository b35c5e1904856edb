// Package materialize implements the CTE materialization cache core: a
// weight-bounded, concurrent index from query-plan fingerprints to
// materialization handles, the reference-count lifecycle that governs
// when a handle's backing table is actually dropped, and the
// priority-based eviction policy that keeps the index within budget.
package materialize

// Fingerprint identifies a logically cacheable query-plan subtree. The
// planner computes it; this package only ever treats it as an opaque,
// comparable, hashable token.
type Fingerprint string
