package store

import (
	"errors"
	"fmt"
)

var (
	ErrTypeNotDefined   = errors.New("record type not defined")
	ErrTypeMismatch     = errors.New("record has another type")
	ErrDuplicateType    = errors.New("record type defined twice")
	ErrClosed           = errors.New("database is closed")
	ErrDatabaseNotFound = errors.New("database not found")
	ErrDatabaseExists   = errors.New("database already exists")
	ErrDatabaseOpen     = errors.New("database is open")
	ErrDuplicateRecord  = errors.New("another instance of the record is loaded")
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a failure of the underlying storage (table engine or catalog)
// together with a return code, so callers can tell storage failures apart from
// usage errors.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInternalError:
		errorCode = "InternalError"
	case RetCUnsupportedOperation:
		errorCode = "UnsupportedOperation"
	case RetCStorageError:
		errorCode = "StorageError"
	default:
		errorCode = "Unknown"
	}

	if e.Err == nil {
		return fmt.Sprintf("StoreError (code %s): %s", errorCode, e.Msg)
	}
	return fmt.Sprintf("StoreError (code %s): %s: %v", errorCode, e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string, cause error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  cause,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCInternalError        RetCode = iota + 1 // 1: A loaded graph could not be materialized.
	RetCUnsupportedOperation                    // 2: The database uses an engine or codec this build does not support.
	RetCStorageError                            // 3: The table engine or the catalog failed.
)
