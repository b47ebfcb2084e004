package record

import "errors"

var (
	ErrNaN              = errors.New("NaN not supported")
	ErrUndefined        = errors.New("undefined not supported")
	ErrUnsupportedValue = errors.New("value not supported")
	ErrUnsaved          = errors.New("referenced record has no id")
	ErrLengthReadOnly   = errors.New("length is read-only")
	ErrKindMismatch     = errors.New("stored kind does not match member")
)
