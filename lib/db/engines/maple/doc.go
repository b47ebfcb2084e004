// Package maple implements an in-memory row store that satisfies the db.KVDB interface.
// It keeps all rows in sharded concurrent maps, maintains a secondary index from tag
// to keys and persists itself through a compact binary snapshot format.
//
// The package focuses on:
//   - Concurrent access through sharding and lock-minimizing data structures
//   - Atomic batches: every Update is applied completely or not at all
//   - Cheap enumeration of all rows with a given tag through the tag index
//   - Persistent storage through consistent snapshots and efficient binary encoding
//   - Statistics for monitoring (size estimates, shard distribution, rows per tag)
//
// Key Components:
//
//   - mapleImpl: The central database structure implementing db.KVDB. It manages
//     shards and the tag index and provides the public API. Every applied batch
//     increases a monotonic write index that is stored with the entries it touched.
//
//   - Shard: A partition of the database that manages a subset of the key space.
//     Keys are record ids, which are mostly sequential, so they are mixed with a
//     database specific seed (splitmix64) before the shard is chosen.
//
//   - Entry: The stored row value together with its tag and the write index of
//     the batch that wrote it.
//
//   - TagIndex: A map from tag to the set of keys stored under that tag. It is kept
//     in sync by the batch apply step, a row that changes its tag moves between sets.
//
// Internal Mechanisms:
//
//   - Batches: Update buffers all writes of the callback in an internal.Batch.
//     Only if the callback succeeds are the buffered writes applied, under the write
//     lock. Point reads take the read lock, so a reader sees either none or all
//     writes of a batch.
//
//   - Scans: Scan takes the key set (from the tag index or from all shards) under
//     the read lock, sorts it and then visits the rows without holding the lock.
//     The callback may call back into the database.
//
//   - Persistence Format: The database uses a compact binary format with the
//     following structure:
//     1. Magic number "MAPLEDB\x00" to identify the file format
//     2. Version number (currently 4)
//     3. Database seed value for hash function consistency
//     4. Write index
//     5. Number of entries
//     6. For each entry: key, tag, index, value length, value bytes
//     Save collects entries under the read lock, so a snapshot never contains a
//     partially applied batch. Load replaces the whole content and rebuilds the tag index.
//
// The maple package is designed for tests, tools and small databases that fit in memory.
// Durability comes from saving a snapshot on close (see lib/store).
package maple
