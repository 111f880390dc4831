// Package ledger implements an append-only, hash-chained record log used for
// compliance audit records and payment receipts.
//
// Entries are partitioned by chain key. Within one chain key every entry
// stores the content hash of its predecessor as its link hash (the first
// entry links to GenesisHash), so altering any persisted field breaks
// verification from that entry onwards. Appends to the same chain key are
// serialised by the Store; different chain keys never coordinate.
//
// Two Store implementations are provided:
//   - MemoryStore: in-process, for tests and single-instance development.
//   - PostgresStore: durable, for production use.
package ledger
