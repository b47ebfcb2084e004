// Package store persists graphs of records (see package record) in a table
// engine (see package db) and keeps them consistent while they are mutated.
//
// A Host manages the databases of one data directory. Databases are addressed
// by a logical name that maps to a physical storage id in the catalog, so they
// can be renamed without touching their records:
//
//	host, err := store.NewHost(common.DefaultConfig())
//	db, err := host.Open(ctx, "main",
//		store.Type[*Story](1).AsRoot(),
//		store.Type[*Slide](2),
//		store.Type[*Media](3),
//	)
//
// Every record type is declared with a stable id that is stored with each
// record and used to find the records of a type. Stable ids must never be reused.
//
// Reading: Get, Pick, Each and First return live records. Every id is loaded at
// most once, later reads return the same instance as long as it is in use
// (the identity map only holds weak pointers). Loading a record loads everything
// it references. ModePeek returns shallow detached copies instead.
//
// Writing: Save writes records and everything they reference in one transaction.
// After that, mutations through the members of a record are saved automatically:
//
//   - Value.Set schedules the owner for the autosave if the value changed.
//   - Ref.Set and the List mutators save newly referenced records right away
//     (they get their id immediately) and schedule the owner.
//   - Records that lose a reference are marked for deletion, together with
//     everything they reference.
//
// The autosave collects dirty records for Config.AutosaveDelay (restarted by
// every mutation) and writes them in one transaction. Config.MaxDirty dirty
// records, Flush and Close write them right away.
//
// Deleting: marked records are collected by the sweep, Config.SweepDelay after
// the last mark. The sweep scans every stored reference and deletes the marked
// records that are neither referenced by an unmarked record nor by a marked
// record that is kept. Records of root types are never marked and therefore
// never deleted. Saving a marked record again (for example by moving it to
// another list) unmarks it. The marked set is persisted in the catalog, a sweep
// that did not run before the process exited runs the next time the database
// is opened.
//
// Errors: serialization failures (NaN, a nil list item, an unsupported value)
// and undeclared types abort Save before anything is written. Storage failures
// are returned as *Error with code RetCStorageError. Failures of the autosave
// and the sweep are logged, both keep running.
package store
