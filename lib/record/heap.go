package record

import (
	"weak"

	"github.com/puzpuzpuz/xsync/v3"
)

// Heap is the identity map of a database: at most one live instance per id.
// Entries are weak, the heap never keeps a record alive on its own. Entries of
// collected records are dropped when they are next looked up or on Compact.
type Heap struct {
	entries *xsync.MapOf[ID, weak.Pointer[Base]]
}

func NewHeap() *Heap {
	return &Heap{entries: xsync.NewMapOf[ID, weak.Pointer[Base]]()}
}

// Get returns the live instance for id or nil.
func (h *Heap) Get(id ID) Record {
	wp, ok := h.entries.Load(id)
	if !ok {
		return nil
	}
	if b := wp.Value(); b != nil {
		if t, self := b.tracked(); t != nil {
			return self
		}
	}
	// collected (or detached) meanwhile, drop the entry unless it was replaced
	h.entries.Compute(id, func(old weak.Pointer[Base], loaded bool) (weak.Pointer[Base], bool) {
		return old, !loaded || old == wp
	})
	return nil
}

// Put registers r (which must be attached) and returns the canonical instance
// for its id, which is r unless another live instance was registered first.
func (h *Heap) Put(r Record) Record {
	b := r.base()
	id := b.ID()
	canonical := r
	h.entries.Compute(id, func(old weak.Pointer[Base], loaded bool) (weak.Pointer[Base], bool) {
		if loaded {
			if live := old.Value(); live != nil && live != b {
				if t, self := live.tracked(); t != nil {
					canonical = self
					return old, false
				}
			}
		}
		return weak.Make(b), false
	})
	return canonical
}

// Delete removes id from the heap.
func (h *Heap) Delete(id ID) {
	h.entries.Delete(id)
}

// Len returns the number of entries, including not yet compacted dead ones.
func (h *Heap) Len() int {
	return h.entries.Size()
}

// Compact removes the entries of collected records and returns how many were removed.
func (h *Heap) Compact() int {
	removed := 0
	h.entries.Range(func(id ID, wp weak.Pointer[Base]) bool {
		if wp.Value() == nil {
			h.entries.Compute(id, func(old weak.Pointer[Base], loaded bool) (weak.Pointer[Base], bool) {
				if !loaded {
					return old, true
				}
				dead := old.Value() == nil
				if dead {
					removed++
				}
				return old, dead
			})
		}
		return true
	})
	return removed
}
