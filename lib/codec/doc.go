// Package codec turns records into bytes and back. A record is persisted as a Row:
// the stable id of its type plus one Field per persisted member. References are
// stored as record ids, so the outbound edges of a row can be read without knowing
// the record type (see Row.Refs).
//
// Key Components:
//
//   - IRowCodec: Core interface that all codec implementations must satisfy.
//
//   - binaryCodecImpl: Custom binary format with varint lengths and ids. It produces the
//     smallest rows and is the default.
//
//   - jsonCodecImpl: JSON encoding, useful for debugging or when rows are inspected
//     with external tools.
//
//   - gobCodecImpl: Go's gob encoding, larger and slower than binary.
//
// A database must always be opened with the codec it was written with.
//
// Thread Safety:
//
//	All codec implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package codec
