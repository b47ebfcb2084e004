package record

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
)

// ID identifies a record within a database. The zero ID means "not saved yet".
type ID int64

// Record is implemented by every struct that embeds Base (through a pointer).
type Record interface {
	base() *Base
}

// Tracker receives the mutation hooks of attached records.
// Hooks are called without any record lock held.
type Tracker interface {
	// SetDirty schedules owner for the next autosave.
	SetDirty(owner Record)
	// MarkForDeletion schedules target (and what it references) for the next sweep.
	MarkForDeletion(target Record)
	// Adopt saves target (and what it references) as part of the database.
	Adopt(target Record)
}

var (
	ErrForeignRecord = errors.New("record belongs to another database")
	ErrReadOnlyCopy  = errors.New("record is a read-only copy")
)

// Base carries the identity of a record and must be embedded in every record type:
//
//	type Slide struct {
//		record.Base
//		Title record.Value[string] `db:"title"`
//	}
//
// Base guards the members of its record. A single record may be read from many
// goroutines, mutations of the same record must not run concurrently.
type Base struct {
	mu       sync.RWMutex
	id       atomic.Int64
	self     Record
	tracker  Tracker
	readOnly bool // shallow copy, never attached
}

func (b *Base) base() *Base {
	return b
}

// ID returns the id of the record, 0 until it is saved for the first time.
func (b *Base) ID() ID {
	return ID(b.id.Load())
}

// tracked returns the tracker and the owning record, both nil while unattached
func (b *Base) tracked() (Tracker, Record) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tracker, b.self
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// IsNil reports whether r is nil or a typed nil pointer.
func IsNil(r Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// IDOf returns the id of r, 0 for nil records.
func IDOf(r Record) ID {
	if IsNil(r) {
		return 0
	}
	return r.base().ID()
}

// IsReadOnly reports whether r is a read-only copy (see Layout.NewCopy).
func IsReadOnly(r Record) bool {
	if IsNil(r) {
		return false
	}
	b := r.base()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readOnly
}

// Attached reports whether r is attached to t.
func Attached(r Record, t Tracker) bool {
	if IsNil(r) {
		return false
	}
	tracker, _ := r.base().tracked()
	return tracker == t
}

// mutate runs fn with the owner's write lock held (if any) and returns
// the tracker to notify afterwards.
func mutate(owner *Base, fn func()) (Tracker, Record) {
	if owner == nil {
		fn()
		return nil, nil
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	fn()
	return owner.tracker, owner.self
}

// read runs fn with the owner's read lock held (if any).
func read(owner *Base, fn func()) {
	if owner == nil {
		fn()
		return
	}
	owner.mu.RLock()
	defer owner.mu.RUnlock()
	fn()
}
