// Package catalog keeps the bookkeeping of a data directory in one bolt file
// (github.com/boltdb/bolt):
//
//   - the mapping from logical database names to their physical storage id,
//     together with the engine and codec the database was created with. Renaming
//     a database only rewrites this mapping, the stored records are never migrated.
//
//   - the marked set of every database: record ids scheduled for deletion by the
//     next sweep. Keeping it on disk lets a sweep that was cut short by a process
//     exit resume the next time the database is opened.
package catalog
