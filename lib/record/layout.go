package record

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/ValentinKolb/dRec/lib/codec"
	"github.com/puzpuzpuz/xsync/v3"
)

// Member describes one persisted member of a record type
type Member struct {
	Name   string       // persisted name (db tag or field name)
	Kind   MemberKind   // value, ref or list
	Target reflect.Type // referenced record type (ref and list only)
	index  []int
}

// Layout is the persisted shape of a record type, computed once by reflection.
type Layout struct {
	Type    reflect.Type // pointer type of the record, e.g. *Slide
	Members []Member
	byName  map[string]int
}

var (
	baseType   = reflect.TypeFor[Base]()
	recordType = reflect.TypeFor[Record]()

	ErrInvalidType        = errors.New("invalid record type")
	ErrUnsupportedMember  = errors.New("member not supported")
	ErrDuplicateMember    = errors.New("duplicate member name")
	errReservedMemberName = errors.New("member name is reserved")
)

// LayoutOf reflects the record type t (a pointer to a struct embedding Base).
//
// Every exported field must be a Value, Ref or List. Fields tagged `db:"-"`
// and unexported fields are not persisted.
func LayoutOf(t reflect.Type) (*Layout, error) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a pointer to a struct", ErrInvalidType, t)
	}
	if !t.Implements(recordType) {
		return nil, fmt.Errorf("%w: %v does not embed record.Base", ErrInvalidType, t)
	}

	l := &Layout{Type: t, byName: make(map[string]int)}
	st := t.Elem()

	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.Anonymous && sf.Type == baseType {
			continue
		}
		if !sf.IsExported() {
			continue
		}

		name := sf.Name
		if tag, ok := sf.Tag.Lookup("db"); ok {
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if name == "_" {
			return nil, fmt.Errorf("%w: %s.%s uses %q", errReservedMemberName, st.Name(), sf.Name, name)
		}
		if _, dup := l.byName[name]; dup {
			return nil, fmt.Errorf("%w: %s.%s (%q)", ErrDuplicateMember, st.Name(), sf.Name, name)
		}

		if !reflect.PointerTo(sf.Type).Implements(memberType) {
			return nil, fmt.Errorf("%w: %s.%s has type %s", ErrUnsupportedMember, st.Name(), sf.Name, sf.Type)
		}

		// ask a zero instance what it is
		probe := reflect.New(sf.Type).Interface().(member)
		m := Member{Name: name, Kind: probe.kind(), index: sf.Index}
		switch p := probe.(type) {
		case refMember:
			m.Target = p.target()
		case listMember:
			m.Target = p.target()
		}

		l.byName[name] = len(l.Members)
		l.Members = append(l.Members, m)
	}

	return l, nil
}

// Index returns the position of the member persisted under name.
func (l *Layout) Index(name string) (int, bool) {
	i, ok := l.byName[name]
	return i, ok
}

// member returns the member i of r
func (l *Layout) member(r Record, i int) member {
	return reflect.ValueOf(r).Elem().FieldByIndex(l.Members[i].index).Addr().Interface().(member)
}

// check panics when r is not of the layout's type, this is always a programming error
func (l *Layout) check(r Record) {
	if t := reflect.TypeOf(r); t != l.Type {
		panic(fmt.Sprintf("record: layout of %v used with %v", l.Type, t))
	}
}

// --------------------------------------------------------------------------
// Construction
// --------------------------------------------------------------------------

// New creates an empty, unattached record of the layout's type with the given id.
func (l *Layout) New(id ID) Record {
	r := reflect.New(l.Type.Elem()).Interface().(Record)
	r.base().id.Store(int64(id))
	return r
}

// NewCopy creates an empty record like New that can never be attached.
// It is used for shallow copies whose references are not loaded, writing
// them back would drop the stored references.
func (l *Layout) NewCopy(id ID) Record {
	r := l.New(id)
	r.base().readOnly = true
	return r
}

// SetValue decodes a stored plain data field into member i of a record
// that is not shared yet.
func (l *Layout) SetValue(r Record, i int, f codec.Field) error {
	l.check(r)
	vm, ok := l.member(r, i).(valueMember)
	if !ok {
		return fmt.Errorf("%w: %s is a %s", ErrKindMismatch, l.Members[i].Name, l.Members[i].Kind)
	}
	if err := vm.decode(f); err != nil {
		return fmt.Errorf("member %q: %w", l.Members[i].Name, err)
	}
	return nil
}

// SetRef stores target in reference member i of a record that is not shared yet.
// It returns false if target has the wrong type.
func (l *Layout) SetRef(r Record, i int, target Record) bool {
	l.check(r)
	rm, ok := l.member(r, i).(refMember)
	return ok && rm.store(target)
}

// SetList stores items in list member i of a record that is not shared yet.
// It returns false if an item has the wrong type.
func (l *Layout) SetList(r Record, i int, items []Record) bool {
	l.check(r)
	lm, ok := l.member(r, i).(listMember)
	return ok && lm.storeAll(items)
}

// --------------------------------------------------------------------------
// Attaching
// --------------------------------------------------------------------------

// Attach connects r to t: r gets an id from next (if it has none) and all its
// members start reporting mutations to t. It returns false if r was already
// attached to t, ErrForeignRecord if r is attached to another tracker and
// ErrReadOnlyCopy for copies made by NewCopy.
func (l *Layout) Attach(r Record, t Tracker, next func() ID) (bool, error) {
	l.check(r)
	b := r.base()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.readOnly {
		return false, ErrReadOnlyCopy
	}
	if b.tracker == t {
		return false, nil
	}
	if b.tracker != nil {
		return false, ErrForeignRecord
	}

	if b.id.Load() == 0 {
		b.id.Store(int64(next()))
	}
	b.self = r
	b.tracker = t
	for i := range l.Members {
		l.member(r, i).bind(b)
	}
	return true, nil
}

// Detach disconnects r from its tracker. Later mutations are no longer reported.
func Detach(r Record) {
	if IsNil(r) {
		return
	}
	b := r.base()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracker = nil
}

// --------------------------------------------------------------------------
// Serialization
// --------------------------------------------------------------------------

// Children returns the records r references, in member order (nil entries skipped).
func (l *Layout) Children(r Record) []Record {
	l.check(r)
	var children []Record
	read(r.base(), func() {
		for i, m := range l.Members {
			switch m.Kind {
			case MemberRef:
				if c := l.member(r, i).(refMember).load(); c != nil {
					children = append(children, c)
				}
			case MemberList:
				for _, c := range l.member(r, i).(listMember).loadAll() {
					if c != nil {
						children = append(children, c)
					}
				}
			}
		}
	})
	return children
}

// Encode serializes r into a row tagged with stable.
// Every referenced record must already have an id.
func (l *Layout) Encode(r Record, stable uint32) (codec.Row, error) {
	l.check(r)
	row := codec.Row{Stable: stable, Fields: make([]codec.Field, 0, len(l.Members))}

	var err error
	read(r.base(), func() {
		for i, m := range l.Members {
			var f codec.Field
			switch m.Kind {
			case MemberValue:
				f, err = l.member(r, i).(valueMember).encode()
			case MemberRef:
				f, err = encodeRef(l.member(r, i).(refMember).load())
			case MemberList:
				f, err = encodeList(l.member(r, i).(listMember).loadAll())
			}
			if err != nil {
				err = fmt.Errorf("member %q: %w", m.Name, err)
				return
			}
			f.Name = m.Name
			row.Fields = append(row.Fields, f)
		}
	})
	return row, err
}

func encodeRef(target Record) (codec.Field, error) {
	if target == nil {
		return codec.Field{Kind: codec.KindRef}, nil
	}
	id := IDOf(target)
	if id == 0 {
		return codec.Field{}, ErrUnsaved
	}
	return codec.Field{Kind: codec.KindRef, Int: int64(id)}, nil
}

func encodeList(items []Record) (codec.Field, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		if item == nil {
			return codec.Field{}, fmt.Errorf("%w (index %d)", ErrUndefined, i)
		}
		id := IDOf(item)
		if id == 0 {
			return codec.Field{}, fmt.Errorf("%w (index %d)", ErrUnsaved, i)
		}
		ids[i] = int64(id)
	}
	return codec.Field{Kind: codec.KindRefs, Refs: ids}, nil
}

// --------------------------------------------------------------------------
// Schema
// --------------------------------------------------------------------------

// Schema memoizes layouts per record type.
type Schema struct {
	layouts *xsync.MapOf[reflect.Type, *Layout]
}

func NewSchema() *Schema {
	return &Schema{layouts: xsync.NewMapOf[reflect.Type, *Layout]()}
}

// LayoutOf returns the (cached) layout of t.
func (s *Schema) LayoutOf(t reflect.Type) (*Layout, error) {
	if l, ok := s.layouts.Load(t); ok {
		return l, nil
	}
	l, err := LayoutOf(t)
	if err != nil {
		return nil, err
	}
	actual, _ := s.layouts.LoadOrStore(t, l)
	return actual, nil
}

// LayoutFor returns the (cached) layout of the type of r.
func (s *Schema) LayoutFor(r Record) (*Layout, error) {
	return s.LayoutOf(reflect.TypeOf(r))
}
