package codec

import "fmt"

// IRowCodec is the interface for all row encodings
type IRowCodec interface {
	// Name returns the name the codec is selected by
	Name() string
	// Encode serializes a Row into a byte array
	Encode(row Row) ([]byte, error)
	// Decode deserializes a byte array into the given Row
	Decode(b []byte, row *Row) error
}

// ByName returns the codec registered under name ("json", "gob" or "binary")
func ByName(name string) (IRowCodec, error) {
	switch name {
	case "json":
		return NewJSONCodec(), nil
	case "gob":
		return NewGOBCodec(), nil
	case "binary", "":
		return NewBinaryCodec(), nil
	default:
		return nil, fmt.Errorf("unknown codec %q (expected json, gob or binary)", name)
	}
}
