// Package postgres is the PostgreSQL engine.
//
// By default connections go through a pgxpool exposed as *sql.DB, and
// batches are sent as a single pgx.Batch round trip. Setting driver_name
// to "postgres" switches to lib/pq, which batches inside a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/koustreak/rowbind/internal/config"
	"github.com/koustreak/rowbind/internal/database/sqldb"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
	"github.com/lib/pq"
)

// DriverNamePQ selects lib/pq instead of pgx.
const DriverNamePQ = "postgres"

const (
	defaultMaxConns = 10
	defaultMinConns = 2
)

// Catalog queries, scoped to the session's current schema.
const (
	listTablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type   = 'BASE TABLE'
		ORDER BY table_name`

	tableExistsQuery = `
		SELECT 1
		FROM information_schema.tables
		WHERE table_schema = current_schema()
		  AND table_type   = 'BASE TABLE'
		  AND table_name   = $1`

	columnsQuery = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name   = $1
		ORDER BY ordinal_position`
)

// Engine returns the PostgreSQL engine description.
func Engine() sqldb.Engine {
	return sqldb.Engine{
		Dialect:     query.Postgres(),
		ListTables:  listTablesQuery,
		TableExists: tableExistsQuery,
		Columns:     columnsQuery,
		Classify:    classify,
		Batch:       sendBatch,
	}
}

// Open connects to PostgreSQL using cfg and pings it.
func Open(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	if cfg.DriverName == DriverNamePQ {
		return openPQ(ctx, cfg)
	}
	return openPGX(ctx, cfg)
}

func openPGX(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}

	poolCfg.MaxConns = withDefault(int32(cfg.MaxConns), defaultMaxConns)
	poolCfg.MinConns = min(defaultMinConns, poolCfg.MaxConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to create connection pool", err)
	}

	// Idle connections are kept by pgxpool, not by database/sql.
	cfg.MaxIdleConns = 0
	d, err := sqldb.Open(ctx, stdlib.OpenDBFromPool(pool), cfg, Engine())
	if err != nil {
		pool.Close()
		return nil, err
	}
	d.OnClose(pool.Close)
	return d, nil
}

func openPQ(ctx context.Context, cfg config.Database) (*sqldb.Driver, error) {
	connector, err := pq.NewConnector(cfg.DSN)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "invalid DSN", err)
	}
	return sqldb.Open(ctx, sql.OpenDB(connector), cfg, Engine())
}

// New wraps an already open pool.
func New(db *sql.DB) *sqldb.Driver {
	return sqldb.New(db, Engine())
}

// sendBatch queues every row on the underlying pgx connection and sends
// them in one round trip. Connections from other drivers fall back to a
// transaction.
func sendBatch(ctx context.Context, conn *sql.Conn, stmt string, rows [][]any) ([]int64, error) {
	counts := make([]int64, 0, len(rows))
	err := conn.Raw(func(dc any) error {
		c, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.ErrUnsupported
		}

		b := &pgx.Batch{}
		for _, args := range rows {
			b.Queue(stmt, args...)
		}

		br := c.Conn().SendBatch(ctx, b)
		for range rows {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return err
			}
			counts = append(counts, tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// withDefault returns val if positive, otherwise def.
func withDefault(val, def int32) int32 {
	if val <= 0 {
		return def
	}
	return val
}
