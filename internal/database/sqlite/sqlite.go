// Package sqlite is the SQLite engine, backed by the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/koustreak/rowbind/internal/config"
	"github.com/koustreak/rowbind/internal/database/sqldb"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql name registered by modernc.org/sqlite.
const DriverName = "sqlite"

const (
	listTablesQuery = `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	tableExistsQuery = `
		SELECT 1
		FROM sqlite_master
		WHERE type = 'table'
		  AND name = ?`

	columnsQuery = `
		SELECT name
		FROM pragma_table_info(?)
		ORDER BY cid`
)

// Engine returns the SQLite engine description.
func Engine() sqldb.Engine {
	return sqldb.Engine{
		Dialect:     query.SQLite(),
		ListTables:  listTablesQuery,
		TableExists: tableExistsQuery,
		Columns:     columnsQuery,
		Classify:    classify,
	}
}

// Open opens the database file (or in-memory database) named by cfg.DSN.
// In-memory databases are private to a connection, so the pool is pinned
// to a single connection for them.
func Open(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	name := cfg.DriverName
	if name == "" {
		name = DriverName
	}

	db, err := sql.Open(name, cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to open database", err)
	}

	if IsMemory(cfg.DSN) {
		cfg.MaxConns = 1
		cfg.MaxIdleConns = 1
		cfg.MaxConnLifetime = 0
		cfg.MaxConnIdleTime = 0
	}
	return sqldb.Open(ctx, db, cfg, Engine())
}

// New wraps an already open pool.
func New(db *sql.DB) *sqldb.Driver {
	return sqldb.New(db, Engine())
}

// IsMemory reports whether dsn names an in-memory database.
func IsMemory(dsn string) bool {
	return dsn == "" ||
		strings.Contains(dsn, ":memory:") ||
		strings.Contains(dsn, "mode=memory")
}
