package codec

import (
	"encoding/json"
)

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec() IRowCodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the IRowCodec interface using json encoding
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.IRowCodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Name() string {
	return "json"
}

func (j jsonCodecImpl) Encode(row Row) ([]byte, error) {
	return json.Marshal(row)
}

func (j jsonCodecImpl) Decode(b []byte, row *Row) error {
	return json.Unmarshal(b, row)
}
