package record

import (
	"reflect"

	"github.com/ValentinKolb/dRec/lib/codec"
)

// MemberKind tells how a member is persisted
type MemberKind uint8

const (
	MemberValue MemberKind = iota + 1 // plain data (Value)
	MemberRef                         // single reference (Ref)
	MemberList                        // ordered reference collection (List)
)

func (k MemberKind) String() string {
	switch k {
	case MemberValue:
		return "value"
	case MemberRef:
		return "ref"
	case MemberList:
		return "list"
	default:
		return "unknown"
	}
}

// member is implemented by the pointer types of Value, Ref and List.
type member interface {
	kind() MemberKind
	bind(owner *Base)
}

// valueMember persists plain data.
type valueMember interface {
	member
	encode() (codec.Field, error)
	decode(f codec.Field) error
}

// refMember holds a single reference.
type refMember interface {
	member
	target() reflect.Type
	load() Record
	store(r Record) bool
}

// listMember holds an ordered collection of references.
type listMember interface {
	member
	target() reflect.Type
	loadAll() []Record
	storeAll(rs []Record) bool
}

var memberType = reflect.TypeFor[member]()
