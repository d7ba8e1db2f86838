// Package jobdb persists the job table in SQLite.
//
// The store writes full snapshots: every Save replaces the jobs table inside
// one transaction, so the file on disk always matches some complete
// in-memory state. Load tolerates damaged rows by logging and skipping them.
//
// Schema changes bump schemaVersion in schema.go; an older database is
// rejected with ErrSchemaMismatch and must be removed by the operator.
package jobdb
