// Package db provides a standardized interface for the row stores that back a record database.
// It defines the KVDB interface that allows for consistent interaction with various storage
// backends while abstracting implementation details.
//
// The package focuses on:
//   - A unified interface for keyed row storage with a secondary tag index
//   - Atomic multi-row writes through Update batches
//   - Feature discovery through capability flags
//   - Standardized persistence operations and metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all storage implementations must satisfy.
//     Rows are addressed by a uint64 key (the record id) and carry a uint32 tag
//     (the stable type id of the record). Scan enumerates all rows of one tag, or
//     every row when called with AllTags.
//
//   - Batch: Collects Set and Delete operations for one Update call. A batch is applied
//     completely or not at all, which lets the record layer write a whole save batch
//     (or a whole sweep) as a single atomic step.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: The DatabaseInfo structure reports size statistics,
//     the implementation type and implementation-specific metadata. For most
//     implementations the size statistics are estimates.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/dRec/lib/db/engines/maple) provides a
// sharded in-memory implementation with binary snapshot persistence.
//
// The engines/badger package (github.com/ValentinKolb/dRec/lib/db/engines/badger) provides a
// durable implementation on top of BadgerDB.
//
// The testing package (github.com/ValentinKolb/dRec/lib/db/testing) provides
// standardized tests and benchmarks for implementations of db.KVDB.
//   - RunKVDBTests: Runs a standardized test suite to validate implementations
//   - RunKVDBBenchmarks: Provides performance benchmarks for comparing implementations
package db
