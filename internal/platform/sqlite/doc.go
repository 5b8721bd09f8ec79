// Package sqlite provides the embedded implementation of the task storage
// interface defined in the internal/store package, backed by the pure-Go
// modernc.org/sqlite driver. It carries the same semantics as the postgres
// implementation and is the store used in single-process deployments and in
// the hermetic test suite.
//
// SQLite serializes writers per database, so the conditional lock update
// retains its atomicity; what a single-file database cannot offer is sharing
// across machines, which is what the postgres store is for.
package sqlite
