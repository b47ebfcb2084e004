package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/record"
)

// pending is an encoded record waiting to be written
type pending struct {
	id     record.ID
	r      record.Record
	stable uint32
	data   []byte
}

// Save writes records and everything they reference in one transaction.
// Records without an id get one, saved records are no longer scheduled for
// deletion. If a record cannot be encoded nothing is written and the
// database state is left as it was.
func (d *Database) Save(ctx context.Context, records ...record.Record) error {
	if err := d.check(ctx); err != nil {
		return err
	}

	var closure []built
	err := d.walk(records, func(r record.Record, info *typeInfo) (bool, error) {
		if err := d.attachable(r); err != nil {
			return false, err
		}
		closure = append(closure, built{r: r, info: info})
		return true, nil
	})
	if err != nil {
		return err
	}

	// ids first, references are encoded by id
	var fresh []record.Record
	for _, b := range closure {
		attached, err := b.info.layout.Attach(b.r, d.tracker, d.ids.Next)
		if err != nil {
			detachAll(fresh)
			return fmt.Errorf("%T: %w", b.r, err)
		}
		if attached {
			fresh = append(fresh, b.r)
		}
	}

	// taken out of the dirty set before encoding, a mutation from now on marks them again
	var wasDirty []record.Record
	for _, b := range closure {
		if r, ok := d.dirty.LoadAndDelete(record.IDOf(b.r)); ok {
			wasDirty = append(wasDirty, r)
		}
	}
	restore := func() {
		for _, r := range wasDirty {
			d.dirty.LoadOrStore(record.IDOf(r), r)
		}
	}

	batch := make([]pending, 0, len(closure))
	for _, b := range closure {
		p, err := d.encode(b.r, b.info)
		if err != nil {
			restore()
			detachAll(fresh)
			return err
		}
		batch = append(batch, p)
	}

	for i, r := range fresh {
		if canonical := d.heap.Put(r); canonical != r {
			for _, registered := range fresh[:i] {
				d.heap.Delete(record.IDOf(registered))
			}
			restore()
			detachAll(fresh)
			return fmt.Errorf("%T %d: %w", r, record.IDOf(r), ErrDuplicateRecord)
		}
	}
	var unmarked []record.ID
	for _, b := range closure {
		if id := record.IDOf(b.r); d.unmark(id) {
			unmarked = append(unmarked, id)
		}
	}

	if _, err := d.write(batch); err != nil {
		// attached by now, the autosave retries the new records
		restore()
		for _, r := range fresh {
			d.dirty.LoadOrStore(record.IDOf(r), r)
		}
		for _, id := range unmarked {
			d.mark(id)
		}
		return err
	}
	return nil
}

// flush writes the dirty records in one transaction. Records that cannot be
// encoded are logged and dropped.
func (d *Database) flush() (int, error) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	// marks first, an interrupted flush then leaves marked records that are
	// still referenced, which the next sweep keeps
	if err := d.persistMarks(); err != nil {
		d.metrics.failed.Inc()
		log.Errorf("%v", err)
	}

	var batch []pending
	d.dirty.Range(func(id record.ID, _ record.Record) bool {
		r, ok := d.dirty.LoadAndDelete(id)
		if !ok || !record.Attached(r, d.tracker) {
			return true
		}
		info, err := d.types.of(r)
		if err == nil {
			var p pending
			if p, err = d.encode(r, info); err == nil {
				batch = append(batch, p)
				return true
			}
		}
		d.metrics.failed.Inc()
		log.Errorf("autosave of record %d in %q: %v", id, d.Name(), err)
		return true
	})
	if len(batch) == 0 {
		return 0, nil
	}

	n, err := d.write(batch)
	if err != nil {
		for _, p := range batch {
			d.dirty.LoadOrStore(p.id, p.r)
		}
		return 0, err
	}
	log.Debugf("autosaved %d records of %q", n, d.Name())
	return n, nil
}

func (d *Database) encode(r record.Record, info *typeInfo) (pending, error) {
	id := record.IDOf(r)
	row, err := info.layout.Encode(r, info.stable)
	if err != nil {
		return pending{}, fmt.Errorf("encode record %d (%v): %w", id, info, err)
	}
	data, err := d.codec.Encode(row)
	if err != nil {
		return pending{}, fmt.Errorf("encode record %d (%v): %w", id, info, err)
	}
	return pending{id: id, r: r, stable: info.stable, data: data}, nil
}

// write stores batch in one transaction. Records deleted by a sweep in the
// meantime are skipped.
func (d *Database) write(batch []pending) (int, error) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	written := 0
	err := d.kv.Update(func(b db.Batch) error {
		written = 0
		for _, p := range batch {
			if !record.Attached(p.r, d.tracker) {
				continue
			}
			b.Set(uint64(p.id), p.stable, p.data)
			written++
		}
		return nil
	})
	if err != nil {
		d.metrics.failed.Inc()
		return 0, NewError(RetCStorageError, fmt.Sprintf("write %d records", len(batch)), err)
	}

	d.metrics.batches.Inc()
	d.metrics.saved.Add(written)
	return written, nil
}

// --------------------------------------------------------------------------
// Graph helpers
// --------------------------------------------------------------------------

// walk visits every record reachable from records once. visit reports whether
// the references of r are visited as well.
func (d *Database) walk(records []record.Record, visit func(r record.Record, info *typeInfo) (bool, error)) error {
	seen := make(map[record.Record]struct{})
	stack := slices.Clone(records)
	slices.Reverse(stack)
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if record.IsNil(r) {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}

		info, err := d.types.of(r)
		if err != nil {
			return err
		}
		descend, err := visit(r, info)
		if err != nil {
			return err
		}
		if descend {
			// reversed, so references are visited in member order
			children := info.layout.Children(r)
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
	return nil
}

// attachable reports why r cannot become part of the database
func (d *Database) attachable(r record.Record) error {
	if record.IsReadOnly(r) {
		return fmt.Errorf("%T %d: %w", r, record.IDOf(r), record.ErrReadOnlyCopy)
	}
	if record.Attached(r, d.tracker) {
		return nil
	}
	if !record.Attached(r, nil) {
		return fmt.Errorf("%T: %w", r, record.ErrForeignRecord)
	}
	if id := record.IDOf(r); id != 0 {
		if live := d.heap.Get(id); live != nil && live != r {
			return fmt.Errorf("%T %d: %w", r, id, ErrDuplicateRecord)
		}
	}
	return nil
}

// attach makes r part of the database: it gets an id, is registered in the
// identity map and is no longer scheduled for deletion.
func (d *Database) attach(r record.Record, info *typeInfo) error {
	if err := d.attachable(r); err != nil {
		return err
	}
	if _, err := info.layout.Attach(r, d.tracker, d.ids.Next); err != nil {
		return fmt.Errorf("%T: %w", r, err)
	}
	if canonical := d.heap.Put(r); canonical != r {
		record.Detach(r)
		return fmt.Errorf("%T %d: %w", r, record.IDOf(r), ErrDuplicateRecord)
	}
	d.unmark(record.IDOf(r))
	return nil
}

// detachAll undoes the attaching of records that were never written.
// Their heap entries are dropped on the next lookup.
func detachAll(records []record.Record) {
	for _, r := range records {
		record.Detach(r)
	}
}

// --------------------------------------------------------------------------
// Marks
// --------------------------------------------------------------------------

func (d *Database) mark(id record.ID) {
	d.markMu.RLock()
	defer d.markMu.RUnlock()
	d.marked.Store(id, d.markGen.Add(1))
	d.markLog.Store(id, true)
}

// unmark reports whether id was marked
func (d *Database) unmark(id record.ID) bool {
	d.markMu.RLock()
	defer d.markMu.RUnlock()
	if _, ok := d.marked.LoadAndDelete(id); ok {
		d.markLog.Store(id, false)
		return true
	}
	return false
}

// persistMarks writes the changes of the marked set to the catalog
func (d *Database) persistMarks() error {
	var add, remove []int64
	d.markLog.Range(func(id record.ID, _ bool) bool {
		if marked, ok := d.markLog.LoadAndDelete(id); ok {
			if marked {
				add = append(add, int64(id))
			} else {
				remove = append(remove, int64(id))
			}
		}
		return true
	})

	if err := d.marks.Update(add, remove); err != nil {
		// retry with the next flush unless changed meanwhile
		for _, id := range add {
			d.markLog.LoadOrStore(record.ID(id), true)
		}
		for _, id := range remove {
			d.markLog.LoadOrStore(record.ID(id), false)
		}
		return NewError(RetCStorageError, fmt.Sprintf("persist marked set of %q", d.Name()), err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Tracker
// --------------------------------------------------------------------------

// tracker receives the mutation hooks of the records of one database
type tracker struct {
	d *Database
}

func (t *tracker) SetDirty(owner record.Record) {
	d := t.d
	if d.closed.Load() {
		return
	}
	id := record.IDOf(owner)
	if id == 0 {
		return
	}
	d.dirty.Store(id, owner)
	if d.maxDirty > 0 && d.dirty.Size() >= d.maxDirty {
		d.autosave.Flush()
		return
	}
	d.autosave.Trigger()
}

// Adopt makes target and the records it references part of the database.
// Records that already are keep their state, apart from being unmarked.
func (t *tracker) Adopt(target record.Record) {
	d := t.d
	if d.closed.Load() {
		return
	}
	err := d.walk([]record.Record{target}, func(r record.Record, info *typeInfo) (bool, error) {
		if record.Attached(r, d.tracker) {
			d.unmark(record.IDOf(r))
			return false, nil
		}
		if err := d.attach(r, info); err != nil {
			return false, err
		}
		d.dirty.Store(record.IDOf(r), r)
		return true, nil
	})
	if err != nil {
		log.Errorf("save of %T in %q: %v", target, d.Name(), err)
	}
	d.autosave.Trigger()
}

// MarkForDeletion schedules target and the records it references for the next sweep.
// Roots (and what they reference) are never marked.
func (t *tracker) MarkForDeletion(target record.Record) {
	d := t.d
	if d.closed.Load() {
		return
	}
	err := d.walk([]record.Record{target}, func(r record.Record, info *typeInfo) (bool, error) {
		if info.root || !record.Attached(r, d.tracker) {
			return false, nil
		}
		d.mark(record.IDOf(r))
		return true, nil
	})
	if err != nil {
		log.Errorf("mark %T in %q: %v", target, d.Name(), err)
	}
	d.autosave.Trigger()
	d.sweeper.Trigger()
}
