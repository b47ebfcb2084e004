package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/ValentinKolb/dRec/lib/record"
)

// loader materializes one graph of stored records. It is used with loadMu held.
type loader struct {
	d    *Database
	mode Mode

	seen  map[record.ID]record.Record // records of this load, resolves cycles
	rows  map[record.ID][]byte        // rows read ahead of time
	built []built                     // constructed, not yet attached
}

type built struct {
	r    record.Record
	info *typeInfo
}

func (d *Database) newLoader(mode Mode) *loader {
	return &loader{
		d:    d,
		mode: mode,
		seen: make(map[record.ID]record.Record),
		rows: make(map[record.ID][]byte),
	}
}

// root loads the record id with everything it references. Storage and decoding
// failures are logged and resolve to nil, unknown types are returned.
func (l *loader) root(id record.ID) (record.Record, error) {
	r, err := l.resolve(id)
	if err != nil {
		l.built = l.built[:0]
		if errors.Is(err, ErrTypeNotDefined) {
			return nil, err
		}
		log.Errorf("load record %d of %q: %v", id, l.d.Name(), err)
		return nil, nil
	}
	if err := l.finish(); err != nil {
		return nil, err
	}
	if l.mode == ModeGet && r != nil {
		// canonical instance, see finish
		r = l.seen[id]
	}
	return r, nil
}

// finish attaches all constructed records once the whole graph is built, so no
// half built record is ever visible through the identity map.
func (l *loader) finish() error {
	defer func() { l.built = l.built[:0] }()
	if l.mode != ModeGet {
		return nil
	}
	for _, b := range l.built {
		if _, err := b.info.layout.Attach(b.r, l.d.tracker, l.d.ids.Next); err != nil {
			return NewError(RetCInternalError, fmt.Sprintf("attach loaded record %d", record.IDOf(b.r)), err)
		}
	}
	for _, b := range l.built {
		if canonical := l.d.heap.Put(b.r); canonical != b.r {
			l.seen[record.IDOf(b.r)] = canonical
		}
	}
	return nil
}

func (l *loader) resolve(id record.ID) (record.Record, error) {
	if id == 0 {
		return nil, nil
	}
	if r, ok := l.seen[id]; ok {
		return r, nil
	}
	if l.mode == ModeGet {
		if r := l.d.heap.Get(id); r != nil {
			return r, nil
		}
	}

	raw, ok := l.rows[id]
	if !ok {
		var err error
		raw, ok, err = l.d.kv.Get(uint64(id))
		if err != nil {
			return nil, NewError(RetCStorageError, fmt.Sprintf("read record %d", id), err)
		}
		if !ok {
			return nil, nil
		}
	}
	return l.construct(id, raw)
}

// nested resolves a reference of owner, failures are logged and read as nil
func (l *loader) nested(owner, id record.ID) record.Record {
	r, err := l.resolve(id)
	if err != nil {
		log.Errorf("record %d: reference to %d: %v", owner, id, err)
		return nil
	}
	if r == nil {
		log.Warningf("record %d: dropped dangling reference to %d", owner, id)
	}
	return r
}

func (l *loader) construct(id record.ID, raw []byte) (record.Record, error) {
	var row codec.Row
	if err := l.d.codec.Decode(raw, &row); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	info, err := l.d.types.stable(row.Stable)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", id, err)
	}

	layout := info.layout
	var r record.Record
	if l.mode == ModePeek {
		r = layout.NewCopy(id)
	} else {
		r = layout.New(id)
	}
	l.seen[id] = r

	// unknown fields belong to removed members, missing fields keep their zero value
	for _, f := range row.Fields {
		i, ok := layout.Index(f.Name)
		if !ok {
			continue
		}
		switch m := layout.Members[i]; m.Kind {
		case record.MemberValue:
			if err := layout.SetValue(r, i, f); err != nil {
				log.Warningf("record %d (%v): %v", id, info, err)
			}

		case record.MemberRef:
			if l.mode == ModePeek || f.Int == 0 {
				continue
			}
			if f.Kind != codec.KindRef {
				log.Warningf("record %d (%v): member %q is stored as %s", id, info, m.Name, f.Kind)
				continue
			}
			target := l.nested(id, record.ID(f.Int))
			if target != nil && !layout.SetRef(r, i, target) {
				log.Warningf("record %d (%v): member %q cannot hold %T", id, info, m.Name, target)
			}

		case record.MemberList:
			if l.mode == ModePeek {
				continue
			}
			if f.Kind != codec.KindRefs {
				log.Warningf("record %d (%v): member %q is stored as %s", id, info, m.Name, f.Kind)
				continue
			}
			items := make([]record.Record, 0, len(f.Refs))
			for _, ref := range f.Refs {
				if target := l.nested(id, record.ID(ref)); target != nil {
					items = append(items, target)
				}
			}
			if !layout.SetList(r, i, items) {
				log.Warningf("record %d (%v): member %q holds records of another type", id, info, m.Name)
			}
		}
	}

	l.built = append(l.built, built{r: r, info: info})
	return r, nil
}
