// Package postgres provides the PostgreSQL-specific implementation of the
// task storage interface defined in the internal/store package. It is the
// store of choice when multiple worker processes share one datastore: the
// conditional lock update relies on the database's row-level atomicity.
package postgres
