// Package record defines what an entity of a record database looks like and how it
// is persisted.
//
// A record type is a struct that embeds Base and declares its persisted members
// with the typed wrappers of this package:
//
//	type Slide struct {
//		record.Base
//		Title  record.Value[string] `db:"title"`
//		Cover  record.Ref[*Media]   `db:"cover"`
//		Scenes record.List[*Scene]  `db:"scenes"`
//	}
//
// Key Components:
//
//   - Base: identity (ID) and the lock guarding the members of one record.
//
//   - Value, Ref, List: member wrappers. Until a record is attached to a database they
//     are plain storage. Once attached, every mutation is reported to the database's
//     Tracker: changed records become dirty, new targets are adopted (saved) and
//     dropped targets are scheduled for deletion.
//
//   - Layout: the persisted shape of a record type, computed once by reflection.
//     It encodes records into codec rows, lists outbound references and fills
//     freshly constructed records from stored rows.
//
//   - Generator: time based, process unique id source.
//
//   - Heap: identity map from id to the live instance, holding weak pointers only.
package record
