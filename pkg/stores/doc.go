// Package stores provides the content-addressed blockstores backing kernel
// state. Blocks are immutable and keyed by CID, so every Put is idempotent.
//
// Two implementations are available:
//   - DatastoreBlockstore keeps blocks in an IPFS datastore (in-memory by default).
//   - SQLiteBlockstore persists blocks in a SQLite database with WAL mode and
//     embedded schema migrations.
package stores
