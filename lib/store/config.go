package store

import (
	"fmt"
	"reflect"

	"github.com/ValentinKolb/dRec/lib/record"
)

// TypeConfig registers a record type with a database.
type TypeConfig struct {
	typ    reflect.Type
	stable uint32
	root   bool
}

// Type declares the record type R (a pointer to a struct embedding record.Base)
// under the stable id. The stable id is persisted with every record of the type
// and must never change once records have been written.
func Type[R record.Record](stable uint32) TypeConfig {
	return TypeConfig{typ: reflect.TypeFor[R](), stable: stable}
}

// AsRoot declares records of the type as roots. Roots are never collected.
func (c TypeConfig) AsRoot() TypeConfig {
	c.root = true
	return c
}

// typeInfo is a registered type together with its layout
type typeInfo struct {
	TypeConfig
	layout *record.Layout
}

func (t *typeInfo) String() string {
	return fmt.Sprintf("%v (%d)", t.typ, t.stable)
}

// registry resolves types by their Go type or by their stable id
type registry struct {
	byType   map[reflect.Type]*typeInfo
	byStable map[uint32]*typeInfo
}

func newRegistry(schema *record.Schema, configs []TypeConfig) (*registry, error) {
	reg := &registry{
		byType:   make(map[reflect.Type]*typeInfo, len(configs)),
		byStable: make(map[uint32]*typeInfo, len(configs)),
	}

	for _, c := range configs {
		if c.stable == 0 {
			return nil, fmt.Errorf("type %v: stable id 0 is reserved", c.typ)
		}
		if _, dup := reg.byType[c.typ]; dup {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateType, c.typ)
		}
		if other, dup := reg.byStable[c.stable]; dup {
			return nil, fmt.Errorf("%w: stable id %d used by %v and %v", ErrDuplicateType, c.stable, other.typ, c.typ)
		}

		layout, err := schema.LayoutOf(c.typ)
		if err != nil {
			return nil, err
		}
		info := &typeInfo{TypeConfig: c, layout: layout}
		reg.byType[c.typ] = info
		reg.byStable[c.stable] = info
	}

	// concrete reference targets must be registered as well
	for _, info := range reg.byType {
		for _, m := range info.layout.Members {
			if m.Target == nil || m.Target.Kind() != reflect.Pointer {
				continue
			}
			if _, ok := reg.byType[m.Target]; !ok {
				return nil, fmt.Errorf("%w: %v (referenced by %v.%s)", ErrTypeNotDefined, m.Target, info.typ, m.Name)
			}
		}
	}

	return reg, nil
}

// of resolves the type of a live record
func (reg *registry) of(r record.Record) (*typeInfo, error) {
	info, ok := reg.byType[reflect.TypeOf(r)]
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrTypeNotDefined, r)
	}
	return info, nil
}

// stable resolves the type of a stored record
func (reg *registry) stable(id uint32) (*typeInfo, error) {
	info, ok := reg.byStable[id]
	if !ok {
		return nil, fmt.Errorf("%w: stable id %d", ErrTypeNotDefined, id)
	}
	return info, nil
}
