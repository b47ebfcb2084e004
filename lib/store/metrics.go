package store

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// dbMetrics holds the metrics of one open database. Every database has its own
// set, so closing and reopening a database never collides with old metrics.
type dbMetrics struct {
	set *metrics.Set

	saved   *metrics.Counter // records written by saves and autosaves
	batches *metrics.Counter // write transactions
	sweeps  *metrics.Counter // completed sweeps
	swept   *metrics.Counter // records deleted by sweeps
	failed  *metrics.Counter // failed writes and sweeps
}

func newMetrics(d *Database) *dbMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`%s{db=%q}`, metric, d.physical)
	}

	m := &dbMetrics{
		set:     set,
		saved:   set.NewCounter(name("drec_records_saved_total")),
		batches: set.NewCounter(name("drec_save_batches_total")),
		sweeps:  set.NewCounter(name("drec_sweeps_total")),
		swept:   set.NewCounter(name("drec_records_swept_total")),
		failed:  set.NewCounter(name("drec_failures_total")),
	}
	set.NewGauge(name("drec_heap_records"), func() float64 {
		return float64(d.heap.Len())
	})
	set.NewGauge(name("drec_dirty_records"), func() float64 {
		return float64(d.dirty.Size())
	})
	set.NewGauge(name("drec_marked_records"), func() float64 {
		return float64(d.marked.Size())
	})
	return m
}

// WriteMetrics writes the metrics of the database in Prometheus text format to w.
func (d *Database) WriteMetrics(w io.Writer) {
	d.metrics.set.WritePrometheus(w)
}
