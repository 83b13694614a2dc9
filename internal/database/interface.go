package database

import (
	"context"

	"github.com/koustreak/rowbind/internal/query"
)

// Driver is the contract every engine implements.
// Everything above this package talks only to this interface;
// nothing imports the mysql, postgres or sqlite packages directly.
//
// Drivers translate their native errors into *errs.Error.
type Driver interface {
	// Dialect describes the engine's SQL flavour and schema capabilities.
	Dialect() query.Dialect

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, st query.Statement) (ExecResult, error)

	// Query runs a statement that returns rows.
	Query(ctx context.Context, st query.Statement) (Rows, error)

	// Prepare compiles st into a reusable handle.
	Prepare(ctx context.Context, st query.Statement) (NativeStmt, error)

	// ListTables returns all user table names.
	ListTables(ctx context.Context) ([]string, error)

	// TableExists reports whether a table with the given name exists.
	TableExists(ctx context.Context, table string) (bool, error)

	// Columns returns the live column names of table in ordinal order.
	Columns(ctx context.Context, table string) ([]string, error)

	// Ping verifies the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the connection pool.
	Close() error
}

// NativeStmt is an engine-level prepared statement.
type NativeStmt interface {
	Exec(ctx context.Context, args []any) (ExecResult, error)
	Query(ctx context.Context, args []any) (Rows, error)

	// ExecBatch runs the statement once per argument row in a single
	// native batch and returns the affected row count of each.
	ExecBatch(ctx context.Context, batch [][]any) ([]int64, error)

	Close() error

	// Closed reports whether the handle can no longer be used, either
	// because Close was called or because its connection is gone.
	Closed() bool
}

// ExecResult is what a non-query statement reports back.
type ExecResult struct {
	RowsAffected int64

	// LastInsertID is the id the engine assigned to an inserted row,
	// read on the connection that ran the insert. Zero when unknown.
	LastInsertID int64
}

// Rows is an abstraction over a database result set.
// Callers must always call Close() when done, even on error.
type Rows interface {
	// Next advances to the next row.
	// Returns false when no more rows exist or on error.
	Next() bool

	// Scan copies the current row's columns into the provided destinations.
	Scan(dest ...any) error

	// Close releases resources held by the result set.
	Close() error

	// Err returns any error encountered during iteration.
	Err() error
}
