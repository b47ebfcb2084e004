package store

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/record"
	"github.com/lni/dragonboat/v4/logger"
)

var sweepLog = logger.GetLogger("sweep")

// sweep deletes the marked records that are no longer referenced.
//
// It snapshots the marked set and scans every stored edge. A marked record is
// kept if it is referenced by an unmarked record or by a marked record that is
// kept itself. All others are deleted in one transaction, removed from the
// identity map and the processed marks are cleared.
func (d *Database) sweep() (int, error) {
	d.sweepMu.Lock()
	defer d.sweepMu.Unlock()

	// stored edges have to reflect all mutations
	if _, err := d.flush(); err != nil {
		return 0, err
	}

	snapshot := make(map[record.ID]uint64)
	d.marked.Range(func(id record.ID, gen uint64) bool {
		snapshot[id] = gen
		return true
	})
	if len(snapshot) == 0 {
		return 0, nil
	}

	kept := make(map[record.ID]struct{})
	inner := make(map[record.ID][]record.ID) // edges between marked records
	err := d.eachEdge(func(from, to record.ID) bool {
		if _, ok := snapshot[to]; !ok {
			return true
		}
		if _, ok := snapshot[from]; ok {
			inner[from] = append(inner[from], to)
		} else {
			kept[to] = struct{}{}
		}
		return true
	})
	if err != nil {
		d.metrics.failed.Inc()
		return 0, err
	}

	// no mark changes from here until the deleted records are detached
	d.markMu.Lock()

	// records saved or marked again since the snapshot are kept as well
	for id, gen := range snapshot {
		if cur, ok := d.marked.Load(id); !ok || cur != gen {
			kept[id] = struct{}{}
		}
	}
	queue := make([]record.ID, 0, len(kept))
	for id := range kept {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, to := range inner[id] {
			if _, ok := kept[to]; !ok {
				kept[to] = struct{}{}
				queue = append(queue, to)
			}
		}
	}

	var deleted []record.ID
	for id := range snapshot {
		if _, ok := kept[id]; !ok {
			deleted = append(deleted, id)
		}
	}

	// detached before writeMu is released, so no pending write brings them back
	d.writeMu.Lock()
	err = d.kv.Update(func(b db.Batch) error {
		for _, id := range deleted {
			b.Delete(uint64(id))
		}
		return nil
	})
	if err == nil {
		for _, id := range deleted {
			d.dirty.Delete(id)
			if r := d.heap.Get(id); r != nil {
				record.Detach(r)
			}
			d.heap.Delete(id)
		}
	}
	d.writeMu.Unlock()
	if err != nil {
		d.markMu.Unlock()
		d.metrics.failed.Inc()
		return 0, NewError(RetCStorageError, "delete swept records", err)
	}

	// clear the processed marks, marks placed after the snapshot stay
	for id, gen := range snapshot {
		d.marked.Compute(id, func(cur uint64, loaded bool) (uint64, bool) {
			processed := !loaded || cur == gen
			if processed {
				d.markLog.Store(id, false)
			}
			return cur, processed
		})
	}
	d.markMu.Unlock()

	if err := d.persistMarks(); err != nil {
		d.metrics.failed.Inc()
		sweepLog.Errorf("%v", err)
	}
	compacted := d.heap.Compact()

	d.metrics.sweeps.Inc()
	d.metrics.swept.Add(len(deleted))
	sweepLog.Infof("swept %q: %d marked, %d deleted, %d kept, %d dead heap entries",
		d.Name(), len(snapshot), len(deleted), len(snapshot)-len(deleted), compacted)
	return len(deleted), nil
}

// recoverMarks loads the persisted marked set and finishes an interrupted sweep
func (d *Database) recoverMarks() error {
	ids, err := d.marks.All()
	if err != nil {
		return NewError(RetCStorageError, "read marked set", err)
	}
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		d.marked.Store(record.ID(id), d.markGen.Add(1))
	}

	sweepLog.Infof("resuming sweep of %d marked records in %q", len(ids), d.Name())
	if _, err := d.sweep(); err != nil {
		sweepLog.Warningf("resumed sweep of %q failed, marks are kept: %v", d.Name(), err)
	}
	return nil
}

// Collect marks every stored record that cannot be reached from a record of a
// root type and sweeps. roots are the stable ids of the root types, the
// declared root types are used if none are given.
func (d *Database) Collect(ctx context.Context, roots ...uint32) (int, error) {
	if err := d.check(ctx); err != nil {
		return 0, err
	}
	if len(roots) == 0 {
		for _, info := range d.types.byType {
			if info.root {
				roots = append(roots, info.stable)
			}
		}
	}
	if len(roots) == 0 {
		return 0, errors.New("collect needs at least one root type")
	}
	if _, err := d.flush(); err != nil {
		return 0, err
	}

	isRoot := make(map[uint32]bool, len(roots))
	for _, stable := range roots {
		isRoot[stable] = true
	}

	var all, queue []record.ID
	edges := make(map[record.ID][]record.ID)
	reachable := make(map[record.ID]struct{})
	err := d.Rows(ctx, db.AllTags, func(id record.ID, row codec.Row) bool {
		all = append(all, id)
		if isRoot[row.Stable] {
			reachable[id] = struct{}{}
			queue = append(queue, id)
		}
		for to := range row.Refs() {
			edges[id] = append(edges[id], record.ID(to))
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, to := range edges[id] {
			if _, ok := reachable[to]; !ok {
				reachable[to] = struct{}{}
				queue = append(queue, to)
			}
		}
	}

	unreachable := 0
	for _, id := range all {
		if _, ok := reachable[id]; !ok {
			d.mark(id)
			unreachable++
		}
	}
	sweepLog.Infof("collect of %q: %d records, %d unreachable", d.Name(), len(all), unreachable)
	if unreachable == 0 {
		return 0, nil
	}
	return d.sweep()
}
