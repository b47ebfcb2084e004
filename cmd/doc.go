// Package cmd implements the command-line interface for administering dRec
// data directories. The library is used embedded, the CLI only works on the
// stored form of the records and does not need the record types.
//
// The package is organized into several subpackages:
//
//   - db: Commands for managing databases (list, rename, delete, info)
//   - rows: Commands for inspecting stored records and references (dump, edges)
//   - gc: Commands for removing unreachable records (sweep, collect)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All commands read their storage settings from flags or DREC_ environment
// variables, see drec -help for a list of all commands.
package cmd
