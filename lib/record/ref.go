package record

import (
	"reflect"
	"sync/atomic"
)

// Ref is a persisted reference to another record.
//
// Setting a new target saves it as part of the database, the previous
// target is scheduled for deletion (it is only removed if nothing else
// still references it) and the owner is scheduled for the next autosave.
type Ref[T Record] struct {
	owner atomic.Pointer[Base]
	v     T
}

// Get returns the referenced record (nil if unset).
func (f *Ref[T]) Get() (v T) {
	read(f.owner.Load(), func() {
		v = f.v
	})
	return v
}

// IsNil reports whether the reference is unset.
func (f *Ref[T]) IsNil() bool {
	return IsNil(f.Get())
}

// Set replaces the referenced record. Setting the current target again is a no-op.
func (f *Ref[T]) Set(v T) {
	var old T
	changed := false
	t, self := mutate(f.owner.Load(), func() {
		if any(f.v) == any(v) || (IsNil(f.v) && IsNil(v)) {
			return
		}
		old = f.v
		f.v = v
		changed = true
	})
	if !changed || t == nil {
		return
	}
	if !IsNil(old) {
		t.MarkForDeletion(old)
	}
	if !IsNil(v) {
		t.Adopt(v)
	}
	t.SetDirty(self)
}

func (f *Ref[T]) kind() MemberKind {
	return MemberRef
}

func (f *Ref[T]) bind(owner *Base) {
	f.owner.Store(owner)
}

func (f *Ref[T]) target() reflect.Type {
	return reflect.TypeFor[T]()
}

// load is called with the owner's lock held
func (f *Ref[T]) load() Record {
	if IsNil(f.v) {
		return nil
	}
	return f.v
}

// store is called on records that are not shared yet
func (f *Ref[T]) store(r Record) bool {
	if IsNil(r) {
		var zero T
		f.v = zero
		return true
	}
	v, ok := r.(T)
	if ok {
		f.v = v
	}
	return ok
}
