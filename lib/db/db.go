package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple  Implementation = "maple"
	ImplBadger Implementation = "badger"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureGet        Feature = 1 << iota // Support for Get, GetMany and Has operations
	FeatureUpdate                         // Support for atomic Update batches
	FeatureScan                           // Support for Scan operations (by tag or full)
	FeatureSave                           // Support for Save operations
	FeatureLoad                           // Support for Load operations
	FeaturePersistent                     // Writes survive a process restart without Save
)

func (f Feature) String() string {
	switch f {
	case FeatureGet:
		return "Get"
	case FeatureUpdate:
		return "Update"
	case FeatureScan:
		return "Scan"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	Rows              int            `json:"rows"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// AllTags is passed to Scan to visit every row regardless of its tag.
const AllTags uint32 = 0

// --------------------------------------------------------------------------
// Batch Interface
// --------------------------------------------------------------------------

// Batch collects the writes of a single Update call.
// Operations are applied in the order they were added, all or nothing.
type Batch interface {

	// Set inserts or replaces the row stored under key.
	// The tag is stored alongside the row and used by Scan to select rows.
	Set(key uint64, tag uint32, value []byte)

	// Delete removes the row stored under key. Deleting a missing key is a no-op.
	Delete(key uint64)
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for row stores keyed by 64 bit identifiers.
// Every row carries a tag (a non-zero uint32) that implementations index, so that
// all rows with the same tag can be enumerated without a full scan.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Update calls fn with a fresh batch and applies all collected writes atomically.
	// If fn returns an error nothing is applied and the error is returned.
	// Readers never observe a partially applied batch.
	Update(fn func(b Batch) error) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for a key.
	// The boolean return value indicates whether a value for the key was found.
	// The returned slice is owned by the caller.
	Get(key uint64) (value []byte, loaded bool, err error)

	// GetMany retrieves the values for several keys in one pass.
	// The result has the same length as keys, missing keys yield a nil entry.
	GetMany(keys []uint64) (values [][]byte, err error)

	// Has checks whether a key exists in the database.
	Has(key uint64) (loaded bool, err error)

	// Scan calls fn for every row with the given tag (or every row for AllTags)
	// in ascending key order until fn returns false.
	// Rows written while the scan is running may or may not be visited.
	Scan(tag uint32, fn func(key uint64, value []byte) bool) (err error)

	// Count returns the number of rows stored in the database.
	Count() (n int, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Returns true if the feature is supported, false otherwise.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database.
	Close() (err error)
}
