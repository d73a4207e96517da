// Package database provides the SQLite connection used for the optional
// fan state-history log.
//
// The registry itself is never persisted; a process restart rebuilds it
// from live discovery. This database only stores the append-only history
// of observed state changes for diagnostics.
//
// The connection is configured for SQLite's strengths: WAL mode for
// concurrent reads during writes, a busy timeout to avoid "database is
// locked" errors, and a single writer connection.
package database
