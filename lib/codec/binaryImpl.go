package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// NewBinaryCodec creates a new codec using a custom binary format
// optimized for speed and size
func NewBinaryCodec() IRowCodec {
	return &binaryCodecImpl{}
}

// binaryCodecImpl implements IRowCodec using a custom binary format:
//
//	[version byte][stable uint32 BE][field count uvarint]
//	per field: [name len uvarint][name][kind byte][payload]
//
// Integers and ids are zig-zag varints, floats are 8 byte IEEE 754 big endian.
type binaryCodecImpl struct {
}

const binaryVersion byte = 1

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IRowCodec)
// --------------------------------------------------------------------------

func (b binaryCodecImpl) Name() string {
	return "binary"
}

func (b binaryCodecImpl) Encode(row Row) ([]byte, error) {
	result := make([]byte, 0, b.sizeHint(row))

	// Write header
	result = append(result, binaryVersion)
	result = binary.BigEndian.AppendUint32(result, row.Stable)
	result = binary.AppendUvarint(result, uint64(len(row.Fields)))

	for _, f := range row.Fields {
		result = appendString(result, f.Name)
		result = append(result, byte(f.Kind))

		switch f.Kind {
		case KindString:
			result = appendString(result, f.Str)
		case KindInt, KindRef:
			result = binary.AppendVarint(result, f.Int)
		case KindFloat:
			result = binary.BigEndian.AppendUint64(result, math.Float64bits(f.Float))
		case KindBool:
			if f.Bool {
				result = append(result, 1)
			} else {
				result = append(result, 0)
			}
		case KindBytes:
			result = binary.AppendUvarint(result, uint64(len(f.Bytes)))
			result = append(result, f.Bytes...)
		case KindStrings:
			result = binary.AppendUvarint(result, uint64(len(f.Strs)))
			for _, s := range f.Strs {
				result = appendString(result, s)
			}
		case KindRefs:
			result = binary.AppendUvarint(result, uint64(len(f.Refs)))
			for _, id := range f.Refs {
				result = binary.AppendVarint(result, id)
			}
		default:
			return nil, fmt.Errorf("field %q: unknown kind %d", f.Name, f.Kind)
		}
	}

	return result, nil
}

func (b binaryCodecImpl) Decode(data []byte, row *Row) error {
	// Check minimum size (version + stable + count)
	if len(data) < 6 {
		return fmt.Errorf("data too short for row header")
	}
	if data[0] != binaryVersion {
		return fmt.Errorf("unsupported row version: %d (expected %d)", data[0], binaryVersion)
	}

	r := reader{data: data, pos: 5}
	row.Stable = binary.BigEndian.Uint32(data[1:5])

	count := r.uvarint("field count")
	if r.err == nil && count > uint64(len(data)) {
		return fmt.Errorf("field count %d exceeds row size", count)
	}
	row.Fields = make([]Field, 0, count)

	for i := uint64(0); i < count && r.err == nil; i++ {
		f := Field{Name: r.string("field name")}
		f.Kind = Kind(r.byte("field kind"))

		switch f.Kind {
		case KindString:
			f.Str = r.string("string value")
		case KindInt, KindRef:
			f.Int = r.varint("int value")
		case KindFloat:
			f.Float = math.Float64frombits(binary.BigEndian.Uint64(r.bytes(8, "float value")))
		case KindBool:
			f.Bool = r.byte("bool value") != 0
		case KindBytes:
			n := r.uvarint("bytes length")
			f.Bytes = append([]byte{}, r.bytes(n, "bytes value")...)
		case KindStrings:
			n := r.uvarint("strings length")
			if r.err == nil && n > uint64(len(data)) {
				return fmt.Errorf("strings length %d exceeds row size", n)
			}
			f.Strs = make([]string, 0, n)
			for j := uint64(0); j < n && r.err == nil; j++ {
				f.Strs = append(f.Strs, r.string("strings value"))
			}
		case KindRefs:
			n := r.uvarint("refs length")
			if r.err == nil && n > uint64(len(data)) {
				return fmt.Errorf("refs length %d exceeds row size", n)
			}
			f.Refs = make([]int64, 0, n)
			for j := uint64(0); j < n && r.err == nil; j++ {
				f.Refs = append(f.Refs, r.varint("ref value"))
			}
		default:
			if r.err == nil {
				return fmt.Errorf("field %q: unknown kind %d", f.Name, f.Kind)
			}
		}

		row.Fields = append(row.Fields, f)
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeHint estimates the encoded size to avoid reallocations
func (b binaryCodecImpl) sizeHint(row Row) int {
	size := 16
	for _, f := range row.Fields {
		size += 2 + len(f.Name) + 10 + len(f.Str) + len(f.Bytes) + 10*len(f.Refs)
		for _, s := range f.Strs {
			size += 2 + len(s)
		}
	}
	return size
}

func appendString(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// reader walks an encoded row, the first error sticks and ends decoding
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("data too short for %s", what)
	}
}

func (r *reader) byte(what string) byte {
	if r.err != nil || r.pos >= len(r.data) {
		r.fail(what)
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) bytes(n uint64, what string) []byte {
	if r.err != nil || n > uint64(len(r.data)-r.pos) {
		r.fail(what)
		return make([]byte, min(n, 8))
	}
	b := r.data[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}

func (r *reader) uvarint(what string) uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail(what)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) varint(what string) int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		r.fail(what)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) string(what string) string {
	n := r.uvarint(what)
	return string(r.bytes(n, what))
}
