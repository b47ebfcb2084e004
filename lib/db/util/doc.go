// Package util provides utility components for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - statistics: Shard distribution metrics and RowSizes, sampled row sizes overall and per tag
//   - functions: Seed generation, hash and key mixing functions and order preserving key encoding
//
// This package is particularly useful for:
//   - Database developers implementing the KVDB interface
//   - Monitoring systems that need to track database size and distribution metrics
package util
