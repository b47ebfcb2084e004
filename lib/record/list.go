package record

import (
	"iter"
	"reflect"
	"slices"
	"sync/atomic"
)

// List is a persisted, ordered collection of references.
//
// Every mutating operation reports to the database: inserted records are saved,
// removed records are scheduled for deletion and the owner is scheduled for the
// next autosave whenever the order or content actually changed.
// The length can only be changed by adding or removing items.
type List[T Record] struct {
	owner atomic.Pointer[Base]
	items []T
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Len returns the number of items.
func (f *List[T]) Len() (n int) {
	read(f.owner.Load(), func() {
		n = len(f.items)
	})
	return n
}

// SetLen always fails, the length follows from the items.
func (f *List[T]) SetLen(int) error {
	return ErrLengthReadOnly
}

// At returns the item at index i. It panics if i is out of range.
func (f *List[T]) At(i int) (v T) {
	read(f.owner.Load(), func() {
		v = f.items[i]
	})
	return v
}

// Items returns a copy of all items.
func (f *List[T]) Items() (items []T) {
	read(f.owner.Load(), func() {
		items = slices.Clone(f.items)
	})
	return items
}

// All iterates over a snapshot of the items.
func (f *List[T]) All() iter.Seq2[int, T] {
	return slices.All(f.Items())
}

// IndexOf returns the index of the first occurrence of v, or -1.
func (f *List[T]) IndexOf(v T) (idx int) {
	idx = -1
	read(f.owner.Load(), func() {
		for i, item := range f.items {
			if any(item) == any(v) {
				idx = i
				return
			}
		}
	})
	return idx
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Push appends items and returns the new length.
func (f *List[T]) Push(items ...T) (n int) {
	t, self := mutate(f.owner.Load(), func() {
		f.items = append(f.items, items...)
		n = len(f.items)
	})
	notify(t, self, nil, items, len(items) > 0)
	return n
}

// Pop removes and returns the last item.
func (f *List[T]) Pop() (v T, ok bool) {
	t, self := mutate(f.owner.Load(), func() {
		if len(f.items) == 0 {
			return
		}
		v, ok = f.items[len(f.items)-1], true
		f.items = f.items[:len(f.items)-1]
	})
	if ok {
		notify(t, self, []T{v}, nil, true)
	}
	return v, ok
}

// Shift removes and returns the first item.
func (f *List[T]) Shift() (v T, ok bool) {
	t, self := mutate(f.owner.Load(), func() {
		if len(f.items) == 0 {
			return
		}
		v, ok = f.items[0], true
		f.items = slices.Delete(f.items, 0, 1)
	})
	if ok {
		notify(t, self, []T{v}, nil, true)
	}
	return v, ok
}

// Unshift inserts items at the front and returns the new length.
// Items are inserted (and the owner marked dirty) into an empty list as well.
func (f *List[T]) Unshift(items ...T) (n int) {
	t, self := mutate(f.owner.Load(), func() {
		f.items = slices.Insert(f.items, 0, items...)
		n = len(f.items)
	})
	notify(t, self, nil, items, len(items) > 0)
	return n
}

// Reverse reverses the order of the items.
func (f *List[T]) Reverse() {
	changed := false
	t, self := mutate(f.owner.Load(), func() {
		slices.Reverse(f.items)
		changed = len(f.items) > 1
	})
	notify[T](t, self, nil, nil, changed)
}

// Sort orders the items with cmp (see slices.SortStableFunc).
func (f *List[T]) Sort(cmp func(a, b T) int) {
	changed := false
	t, self := mutate(f.owner.Load(), func() {
		slices.SortStableFunc(f.items, cmp)
		changed = len(f.items) > 1
	})
	notify[T](t, self, nil, nil, changed)
}

// Splice removes deleteCount items starting at start, inserts items in their
// place and returns the removed items. A negative start counts from the end.
func (f *List[T]) Splice(start, deleteCount int, items ...T) (removed []T) {
	t, self := mutate(f.owner.Load(), func() {
		n := len(f.items)
		if start < 0 {
			start = max(n+start, 0)
		}
		start = min(start, n)
		deleteCount = max(min(deleteCount, n-start), 0)

		removed = slices.Clone(f.items[start : start+deleteCount])
		f.items = slices.Replace(f.items, start, start+deleteCount, items...)
	})
	notify(t, self, removed, items, len(removed) > 0 || len(items) > 0)
	return removed
}

// Replace swaps the whole content for items.
func (f *List[T]) Replace(items []T) {
	var removed []T
	t, self := mutate(f.owner.Load(), func() {
		removed = f.items
		f.items = slices.Clone(items)
	})
	notify(t, self, removed, items, true)
}

// notify reports removed and inserted items and marks the owner dirty
func notify[T Record](t Tracker, self Record, removed, inserted []T, dirty bool) {
	if t == nil {
		return
	}
	for _, r := range removed {
		if !IsNil(r) {
			t.MarkForDeletion(r)
		}
	}
	for _, r := range inserted {
		if !IsNil(r) {
			t.Adopt(r)
		}
	}
	if dirty {
		t.SetDirty(self)
	}
}

// --------------------------------------------------------------------------
// Member Interface
// --------------------------------------------------------------------------

func (f *List[T]) kind() MemberKind {
	return MemberList
}

func (f *List[T]) bind(owner *Base) {
	f.owner.Store(owner)
}

func (f *List[T]) target() reflect.Type {
	return reflect.TypeFor[T]()
}

// loadAll is called with the owner's lock held
func (f *List[T]) loadAll() []Record {
	rs := make([]Record, len(f.items))
	for i, item := range f.items {
		if !IsNil(item) {
			rs[i] = item
		}
	}
	return rs
}

// storeAll is called on records that are not shared yet
func (f *List[T]) storeAll(rs []Record) bool {
	items := make([]T, 0, len(rs))
	for _, r := range rs {
		v, ok := r.(T)
		if !ok {
			return false
		}
		items = append(items, v)
	}
	f.items = items
	return true
}
