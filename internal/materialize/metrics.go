package materialize

import (
	metrics "github.com/armon/go-metrics"
)

// metricsSink wraps the handful of counters the manager emits on every
// operation, reported through armon/go-metrics rather than bespoke
// atomic fields so they flow into whatever sink cmd/ctecached wires up.
type metricsSink struct {
	prefix []string
}

func newMetricsSink(prefix ...string) *metricsSink {
	if len(prefix) == 0 {
		prefix = []string{"ctecache", "materialize"}
	}
	return &metricsSink{prefix: prefix}
}

func (m *metricsSink) incr(name string) {
	metrics.IncrCounter(append(append([]string{}, m.prefix...), name), 1)
}

func (m *metricsSink) setGauge(name string, value float32) {
	metrics.SetGauge(append(append([]string{}, m.prefix...), name), value)
}

func (m *metricsSink) hit()         { m.incr("hit") }
func (m *metricsSink) miss()        { m.incr("miss") }
func (m *metricsSink) put()         { m.incr("put") }
func (m *metricsSink) commit()      { m.incr("commit") }
func (m *metricsSink) evict()       { m.incr("evict") }
func (m *metricsSink) drop()        { m.incr("drop") }
func (m *metricsSink) dropFailed()  { m.incr("catalog_drop_failures") }
func (m *metricsSink) invalid()     { m.incr("invalidate") }
func (m *metricsSink) size(v int64) { m.setGauge("current_size", float32(v)) }
