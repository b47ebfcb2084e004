// Package badger implements the db.KVDB interface on top of BadgerDB
// (github.com/dgraph-io/badger/v4), a durable embedded LSM store.
//
// Layout of the keyspace:
//   - r<key>: the row, its value is the 4 byte big endian tag followed by the payload
//   - i<tag><key>: an empty index entry, one per row
//
// Keys are big endian, so badger iterates rows and index entries in ascending key order.
// Every Update runs as one badger transaction, rows and index entries change together.
// Scan uses one read transaction, all visited rows come from the same snapshot.
//
// Save and Load map to badger's Backup and Load. Value log garbage collection runs
// in the background when a GC interval is configured.
package badger
