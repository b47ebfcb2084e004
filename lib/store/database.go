package store

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dRec/lib/catalog"
	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/db"
	"github.com/ValentinKolb/dRec/lib/record"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var log = logger.GetLogger("store")

// Mode selects how records are materialized when they are read.
type Mode int

const (
	// ModeGet returns live records: they are registered in the identity map,
	// their references are resolved and their mutations are saved.
	ModeGet Mode = iota
	// ModePeek returns detached copies with their plain data members only.
	// References stay nil and lists empty. Peeked records cannot be saved
	// (record.ErrReadOnlyCopy).
	ModePeek
)

// Database is an open logical database.
//
// All methods are safe for concurrent use. Mutations of loaded records are
// collected and written by the autosave, deletions are confirmed by the sweep.
type Database struct {
	name     atomic.Pointer[string]
	physical string
	host     *Host

	kv      db.KVDB
	codec   codec.IRowCodec
	types   *registry
	heap    *record.Heap
	ids     *record.Generator // shared by all databases of the host
	tracker *tracker

	dirty    *xsync.MapOf[record.ID, record.Record]
	maxDirty int
	autosave *debouncer

	marks   *catalog.MarkSet
	marked  *xsync.MapOf[record.ID, uint64] // id -> generation of the mark
	markLog *xsync.MapOf[record.ID, bool]   // not yet persisted changes, true = marked
	markGen atomic.Uint64
	sweeper *debouncer

	loads   singleflight.Group
	loadMu  sync.Mutex   // serializes materialization of loaded graphs
	writeMu sync.Mutex   // serializes write transactions
	flushMu sync.Mutex   // serializes flushes
	sweepMu sync.Mutex   // serializes sweeps
	markMu  sync.RWMutex // write locked while a sweep decides what to delete

	metrics *dbMetrics
	closed  atomic.Bool
}

func newDatabase(h *Host, entry catalog.Entry, kv db.KVDB, rc codec.IRowCodec, reg *registry) *Database {
	cfg := h.cfg
	d := &Database{
		physical: entry.Physical,
		host:     h,
		kv:       kv,
		codec:    rc,
		types:    reg,
		heap:     record.NewHeap(),
		ids:      h.ids,
		dirty:    xsync.NewMapOf[record.ID, record.Record](),
		maxDirty: cfg.MaxDirty,
		marks:    h.catalog.Marks(entry.Physical),
		marked:   xsync.NewMapOf[record.ID, uint64](),
		markLog:  xsync.NewMapOf[record.ID, bool](),
	}
	d.name.Store(&entry.Name)
	d.tracker = &tracker{d: d}
	d.metrics = newMetrics(d)

	d.autosave = newDebouncer(cfg.AutosaveDelay, func() {
		if _, err := d.flush(); err != nil {
			log.Errorf("autosave of %q failed: %v", d.Name(), err)
		}
	})
	d.sweeper = newDebouncer(cfg.SweepDelay, func() {
		if _, err := d.sweep(); err != nil {
			log.Errorf("sweep of %q failed: %v", d.Name(), err)
		}
	})

	return d
}

// Name returns the current logical name of the database.
func (d *Database) Name() string {
	return *d.name.Load()
}

// Physical returns the storage id of the database, which never changes.
func (d *Database) Physical() string {
	return d.physical
}

// Info returns metadata of the underlying table engine.
func (d *Database) Info() db.DatabaseInfo {
	return d.kv.GetInfo()
}

func (d *Database) check(ctx context.Context) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// --------------------------------------------------------------------------
// Reading
// --------------------------------------------------------------------------

// Get returns the record stored under id, or nil if there is none (or id is 0).
//
// A record that is already loaded is returned as is. Otherwise the record and
// everything it references is loaded, concurrent calls for the same id share one
// load. Storage failures are logged and read as nil. Records of a type that is
// not registered with the database fail with ErrTypeNotDefined.
func (d *Database) Get(ctx context.Context, id record.ID) (record.Record, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, nil
	}
	if r := d.heap.Get(id); r != nil {
		return r, nil
	}

	v, err, _ := d.loads.Do(strconv.FormatInt(int64(id), 10), func() (any, error) {
		d.loadMu.Lock()
		defer d.loadMu.Unlock()
		return d.newLoader(ModeGet).root(id)
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(record.Record), nil
}

// Pick returns the records stored under ids in the same order, with nil for
// missing ids. Records that are not loaded yet are read in one pass.
func (d *Database) Pick(ctx context.Context, ids ...record.ID) ([]record.Record, error) {
	if err := d.check(ctx); err != nil {
		return nil, err
	}

	out := make([]record.Record, len(ids))
	var cold []uint64
	for i, id := range ids {
		if id == 0 {
			continue
		}
		if r := d.heap.Get(id); r != nil {
			out[i] = r
			continue
		}
		cold = append(cold, uint64(id))
	}
	if len(cold) == 0 {
		return out, nil
	}

	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	l := d.newLoader(ModeGet)
	values, err := d.kv.GetMany(cold)
	if err != nil {
		log.Errorf("read %d records of %q: %v", len(cold), d.Name(), err)
		return out, nil
	}
	for i, key := range cold {
		if values[i] != nil {
			l.rows[record.ID(key)] = values[i]
		}
	}

	for i, id := range ids {
		if id == 0 || out[i] != nil {
			continue
		}
		r, err := l.root(id)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// Each iterates over all records with the stable id in ascending id order.
// The sequence ends early with an error if reading fails or ctx is done.
func (d *Database) Each(ctx context.Context, stable uint32, mode Mode) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if err := d.check(ctx); err != nil {
			yield(nil, err)
			return
		}
		if _, err := d.types.stable(stable); err != nil {
			yield(nil, err)
			return
		}

		var iterErr error
		stopped := false
		err := d.kv.Scan(stable, func(key uint64, raw []byte) bool {
			if err := ctx.Err(); err != nil {
				iterErr = err
				return false
			}
			r, err := d.materialize(record.ID(key), raw, mode)
			if err != nil {
				iterErr = err
				return false
			}
			if r == nil {
				return true
			}
			if !yield(r, nil) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
		if err != nil {
			iterErr = NewError(RetCStorageError, fmt.Sprintf("scan records of stable id %d", stable), err)
		}
		if iterErr != nil {
			yield(nil, iterErr)
		}
	}
}

// materialize turns a scanned row into a record
func (d *Database) materialize(id record.ID, raw []byte, mode Mode) (record.Record, error) {
	if mode == ModeGet {
		if r := d.heap.Get(id); r != nil {
			return r, nil
		}
	}

	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	l := d.newLoader(mode)
	l.rows[id] = raw
	return l.root(id)
}

// --------------------------------------------------------------------------
// Typed helpers
// --------------------------------------------------------------------------

// Get returns the record stored under id as R.
// It fails with ErrTypeMismatch if the record has another type.
func Get[R record.Record](ctx context.Context, d *Database, id record.ID) (R, error) {
	var zero R
	r, err := d.Get(ctx, id)
	if err != nil || r == nil {
		return zero, err
	}
	typed, ok := r.(R)
	if !ok {
		return zero, fmt.Errorf("%w: record %d is a %T, not a %T", ErrTypeMismatch, id, r, zero)
	}
	return typed, nil
}

// Each iterates over all records of type R.
func Each[R record.Record](ctx context.Context, d *Database, mode Mode) iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		var zero R
		info, ok := d.types.byType[reflect.TypeFor[R]()]
		if !ok {
			yield(zero, fmt.Errorf("%w: %T", ErrTypeNotDefined, zero))
			return
		}
		for r, err := range d.Each(ctx, info.stable, mode) {
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r.(R), nil) {
				return
			}
		}
	}
}

// First returns the record of type R with the lowest id, the zero value if
// there is none. Databases typically use it to find their root.
func First[R record.Record](ctx context.Context, d *Database) (R, error) {
	for r, err := range Each[R](ctx, d, ModeGet) {
		return r, err
	}
	var zero R
	return zero, nil
}

// --------------------------------------------------------------------------
// Raw access
// --------------------------------------------------------------------------

// Rows iterates over the stored rows with the stable id (db.AllTags for all rows)
// without materializing records. It works for types that are not registered.
func (d *Database) Rows(ctx context.Context, stable uint32, fn func(id record.ID, row codec.Row) bool) error {
	if err := d.check(ctx); err != nil {
		return err
	}

	var iterErr error
	err := d.kv.Scan(stable, func(key uint64, raw []byte) bool {
		if err := ctx.Err(); err != nil {
			iterErr = err
			return false
		}
		var row codec.Row
		if err := d.codec.Decode(raw, &row); err != nil {
			iterErr = fmt.Errorf("decode record %d: %w", key, err)
			return false
		}
		return fn(record.ID(key), row)
	})
	if err != nil {
		return NewError(RetCStorageError, "scan rows", err)
	}
	return iterErr
}

// EachEdge calls fn for every stored reference from one record to another.
func (d *Database) EachEdge(ctx context.Context, fn func(from, to record.ID) bool) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	return d.eachEdge(fn)
}

func (d *Database) eachEdge(fn func(from, to record.ID) bool) error {
	var decodeErr error
	err := d.kv.Scan(db.AllTags, func(key uint64, raw []byte) bool {
		var row codec.Row
		if err := d.codec.Decode(raw, &row); err != nil {
			decodeErr = fmt.Errorf("decode record %d: %w", key, err)
			return false
		}
		for to := range row.Refs() {
			if !fn(record.ID(key), record.ID(to)) {
				return false
			}
		}
		return true
	})
	if err != nil {
		return NewError(RetCStorageError, "scan edges", err)
	}
	return decodeErr
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Flush writes all pending mutations now.
func (d *Database) Flush(ctx context.Context) error {
	if err := d.check(ctx); err != nil {
		return err
	}
	_, err := d.flush()
	return err
}

// Sweep deletes all marked records that are no longer referenced now and
// returns how many were deleted.
func (d *Database) Sweep(ctx context.Context) (int, error) {
	if err := d.check(ctx); err != nil {
		return 0, err
	}
	return d.sweep()
}

// Close writes pending mutations, runs a pending sweep and closes the database.
// Records loaded from the database are no longer tracked afterwards.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.autosave.Stop()
	d.sweeper.Stop()

	var firstErr error
	if _, err := d.flush(); err != nil {
		log.Errorf("final flush of %q failed: %v", d.Name(), err)
		firstErr = err
	}
	if d.marked.Size() > 0 {
		if _, err := d.sweep(); err != nil {
			log.Errorf("final sweep of %q failed: %v", d.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := d.kv.Close(); err != nil && firstErr == nil {
		firstErr = NewError(RetCStorageError, "close table", err)
	}

	d.host.release(d)
	log.Infof("closed database %q", d.Name())
	return firstErr
}
