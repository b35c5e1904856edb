// Package catalog provides the metadata-service side of the
// materialization cache: creating and dropping the physical tables
// that back cached query-plan subtrees. It follows a narrow
// interface with a reference implementation, so a real metadata
// service can be substituted without touching the manager.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"ctecache/internal/materialize"
)

// Service is the full catalog surface the rest of the system depends
// on, a superset of materialize.Catalog that also exposes the tables
// currently tracked, for admin and test introspection.
type Service interface {
	materialize.Catalog
	Tables() []string
}

// InMemory is a reference Service implementation backed by a plain
// map, suitable for tests and for a single-process deployment that
// delegates actual table storage to whatever the SQL engine already
// manages — this package only tracks naming and drop/create calls.
type InMemory struct {
	mu      sync.Mutex
	tables  map[string]struct{}
	counter uint64
}

// NewInMemory constructs an empty catalog.
func NewInMemory() *InMemory {
	return &InMemory{tables: make(map[string]struct{})}
}

// CreateTable allocates a fresh, collision-free table name for fp and
// records it as live.
func (c *InMemory) CreateTable(ctx context.Context, fp materialize.Fingerprint) (string, error) {
	n := atomic.AddUint64(&c.counter, 1)
	table := fmt.Sprintf("cte_mat_%d_%s", n, uuid.New().String())

	c.mu.Lock()
	c.tables[table] = struct{}{}
	c.mu.Unlock()

	return table, nil
}

// DropTable removes table from the live set. Dropping an unknown table
// is an error: the manager guarantees at-most-once drop per table, so
// a caller reaching this with an unknown name indicates a bug upstream.
func (c *InMemory) DropTable(ctx context.Context, table string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[table]; !ok {
		return fmt.Errorf("catalog: drop of unknown table %q", table)
	}
	delete(c.tables, table)
	return nil
}

// Tables returns the names of every currently live table.
func (c *InMemory) Tables() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.tables))
	for t := range c.tables {
		out = append(out, t)
	}
	return out
}
