// Package mysql is the MySQL engine, backed by go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/rowbind/internal/config"
	"github.com/koustreak/rowbind/internal/database/sqldb"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
)

// Catalog queries, scoped to the connection's current database.
const (
	listTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	tableExistsQuery = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = ?`

	columnsQuery = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name   = ?
		ORDER BY ordinal_position`
)

// Engine returns the MySQL engine description.
func Engine() sqldb.Engine {
	return sqldb.Engine{
		Dialect:     query.MySQL(),
		ListTables:  listTablesQuery,
		TableExists: tableExistsQuery,
		Columns:     columnsQuery,
		Classify:    classify,
	}
}

// Open connects to MySQL using cfg and pings it.
// The DSN is the go-sql-driver format, e.g. user:pass@tcp(localhost:3306)/app.
// parseTime is always enabled so DATETIME columns scan into time.Time.
func Open(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	dsn.ParseTime = true

	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	return sqldb.Open(ctx, sql.OpenDB(connector), cfg, Engine())
}

// New wraps an already open pool using the mysql driver.
func New(db *sql.DB) *sqldb.Driver {
	return sqldb.New(db, Engine())
}
