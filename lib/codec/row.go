package codec

import (
	"fmt"
	"iter"
)

// Kind identifies which payload of a Field is set
type Kind uint8

const (
	KindString  Kind = iota + 1 // Str
	KindInt                     // Int
	KindFloat                   // Float
	KindBool                    // Bool
	KindBytes                   // Bytes
	KindStrings                 // Strs
	KindRef                     // Int holds the referenced id, 0 is a null reference
	KindRefs                    // Refs holds the referenced ids in list order
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindStrings:
		return "strings"
	case KindRef:
		return "ref"
	case KindRefs:
		return "refs"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field is one persisted member of a record.
// Only the payload selected by Kind is meaningful.
type Field struct {
	Name  string   `json:"n"`
	Kind  Kind     `json:"k"`
	Str   string   `json:"s,omitempty"`
	Int   int64    `json:"i,omitempty"`
	Float float64  `json:"f,omitempty"`
	Bool  bool     `json:"b,omitempty"`
	Bytes []byte   `json:"x,omitempty"`
	Strs  []string `json:"l,omitempty"`
	Refs  []int64  `json:"r,omitempty"`
}

// Row is the persisted form of a record: the stable type id plus its fields
// in declaration order. The record id is the storage key and not part of the row.
type Row struct {
	Stable uint32  `json:"_"`
	Fields []Field `json:"f"`
}

// Field returns the field with the given name
func (r Row) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Refs yields the ids of all records this row references (outbound edges).
// Null references are skipped, duplicates are yielded once per occurrence.
func (r Row) Refs() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for _, f := range r.Fields {
			switch f.Kind {
			case KindRef:
				if f.Int != 0 && !yield(f.Int) {
					return
				}
			case KindRefs:
				for _, id := range f.Refs {
					if id != 0 && !yield(id) {
						return
					}
				}
			}
		}
	}
}
