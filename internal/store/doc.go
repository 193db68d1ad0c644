// Package store provides the SQLite run ledger.
//
// Every monitoring run gets a row in runs keyed by its run ID, and every
// output event the run produces is mirrored into the ledger next to the
// CSV files:
//   - records: the working set and each record's publication time
//   - churn_events: one row per record (PRIMARY KEY run_id, pubkey)
//   - node_samples: per-record storing-node counts, written on change
//   - global_samples: the aggregate count, written on decrease
//
// Rows are scoped by run_id, so one database can hold many runs without
// mixing them. Reads return rows in insertion order (ORDER BY rowid).
//
// # Database Configuration
//
// Connection pragmas travel in the DSN so every pooled connection gets
// them: WAL journal, synchronous=NORMAL, a 5s busy timeout and foreign
// keys. Schema changes are numbered steps tracked in PRAGMA user_version;
// Open applies the pending ones in a single transaction and refuses a
// ledger written by a newer build.
//
// Times are stored as Unix microseconds; elapsed values as whole seconds.
package store
