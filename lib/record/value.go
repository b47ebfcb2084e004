package record

import (
	"fmt"
	"math"
	"reflect"
	"sync/atomic"

	"github.com/ValentinKolb/dRec/lib/codec"
)

// Primitive lists the plain data types a Value can hold.
type Primitive interface {
	~string | ~bool |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 |
		~float32 | ~float64 |
		~[]byte | ~[]string
}

// Value is a persisted plain data member. Setting a different value schedules
// the owning record for the next autosave. Slices are stored as given and must
// only be changed through Set.
type Value[T Primitive] struct {
	owner atomic.Pointer[Base]
	v     T
}

// Get returns the current value.
func (f *Value[T]) Get() (v T) {
	read(f.owner.Load(), func() {
		v = f.v
	})
	return v
}

// Set replaces the value.
func (f *Value[T]) Set(v T) {
	changed := false
	t, self := mutate(f.owner.Load(), func() {
		if !reflect.DeepEqual(f.v, v) {
			f.v = v
			changed = true
		}
	})
	if changed && t != nil {
		t.SetDirty(self)
	}
}

func (f *Value[T]) String() string {
	return fmt.Sprint(f.Get())
}

func (f *Value[T]) kind() MemberKind {
	return MemberValue
}

func (f *Value[T]) bind(owner *Base) {
	f.owner.Store(owner)
}

// encode is called with the owner's lock held
func (f *Value[T]) encode() (codec.Field, error) {
	return encodeValue(reflect.ValueOf(f.v))
}

// decode is called on records that are not shared yet
func (f *Value[T]) decode(field codec.Field) error {
	return decodeValue(reflect.ValueOf(&f.v).Elem(), field)
}

// --------------------------------------------------------------------------
// Reflection based conversion
// --------------------------------------------------------------------------

func encodeValue(v reflect.Value) (codec.Field, error) {
	switch v.Kind() {
	case reflect.String:
		return codec.Field{Kind: codec.KindString, Str: v.String()}, nil
	case reflect.Bool:
		return codec.Field{Kind: codec.KindBool, Bool: v.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return codec.Field{Kind: codec.KindInt, Int: v.Int()}, nil
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return codec.Field{Kind: codec.KindInt, Int: int64(v.Uint())}, nil
	case reflect.Float32, reflect.Float64:
		if math.IsNaN(v.Float()) {
			return codec.Field{}, ErrNaN
		}
		return codec.Field{Kind: codec.KindFloat, Float: v.Float()}, nil
	case reflect.Slice:
		switch v.Type().Elem().Kind() {
		case reflect.Uint8:
			if v.IsNil() {
				return codec.Field{Kind: codec.KindBytes}, nil
			}
			return codec.Field{Kind: codec.KindBytes, Bytes: append([]byte{}, v.Bytes()...)}, nil
		case reflect.String:
			strs := make([]string, v.Len())
			for i := range strs {
				strs[i] = v.Index(i).String()
			}
			return codec.Field{Kind: codec.KindStrings, Strs: strs}, nil
		}
	}
	return codec.Field{}, fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
}

func decodeValue(dst reflect.Value, f codec.Field) error {
	mismatch := func() error {
		return fmt.Errorf("%w: %s stored as %s", ErrKindMismatch, dst.Type(), f.Kind)
	}

	switch dst.Kind() {
	case reflect.String:
		if f.Kind != codec.KindString {
			return mismatch()
		}
		dst.SetString(f.Str)
	case reflect.Bool:
		if f.Kind != codec.KindBool {
			return mismatch()
		}
		dst.SetBool(f.Bool)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f.Kind != codec.KindInt {
			return mismatch()
		}
		if dst.OverflowInt(f.Int) {
			return fmt.Errorf("%w: %d overflows %s", ErrKindMismatch, f.Int, dst.Type())
		}
		dst.SetInt(f.Int)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		if f.Kind != codec.KindInt {
			return mismatch()
		}
		if f.Int < 0 || dst.OverflowUint(uint64(f.Int)) {
			return fmt.Errorf("%w: %d overflows %s", ErrKindMismatch, f.Int, dst.Type())
		}
		dst.SetUint(uint64(f.Int))
	case reflect.Float32, reflect.Float64:
		switch f.Kind {
		case codec.KindFloat:
			dst.SetFloat(f.Float)
		case codec.KindInt:
			// widened members keep reading old rows
			dst.SetFloat(float64(f.Int))
		default:
			return mismatch()
		}
	case reflect.Slice:
		switch {
		case dst.Type().Elem().Kind() == reflect.Uint8 && f.Kind == codec.KindBytes:
			if f.Bytes == nil {
				dst.SetZero()
				return nil
			}
			dst.SetBytes(append([]byte{}, f.Bytes...))
		case dst.Type().Elem().Kind() == reflect.String && f.Kind == codec.KindStrings:
			s := reflect.MakeSlice(dst.Type(), len(f.Strs), len(f.Strs))
			for i, str := range f.Strs {
				s.Index(i).SetString(str)
			}
			dst.Set(s)
		default:
			return mismatch()
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, dst.Type())
	}
	return nil
}
