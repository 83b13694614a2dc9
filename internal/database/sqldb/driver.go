// Package sqldb implements database.Driver on top of database/sql.
//
// The engine packages (mysql, postgres, sqlite) supply an Engine: the
// dialect, the catalog queries used for reconciliation, the native error
// classifier and, optionally, a native batch path. Everything else, from
// pooling and prepared statements to result handling, is shared here.
package sqldb

import (
	"context"
	"database/sql"
	"errors"

	"github.com/koustreak/rowbind/internal/config"
	"github.com/koustreak/rowbind/internal/database"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
)

// BatchFunc runs one statement for every argument row on conn as a single
// native batch. Returning errors.ErrUnsupported falls back to a
// transaction over the prepared statement.
type BatchFunc func(ctx context.Context, conn *sql.Conn, sql string, batch [][]any) ([]int64, error)

// Engine is what differs between engines.
type Engine struct {
	Dialect query.Dialect

	// Catalog queries. TableExists and Columns take the table name as
	// their only parameter; Columns returns names in ordinal order.
	ListTables  string
	TableExists string
	Columns     string

	// Classify maps an engine-native error to a kind. ok is false for
	// errors it does not recognise.
	Classify func(err error) (kind errs.ErrKind, detail string, ok bool)

	Batch BatchFunc
}

// Driver is a database/sql backed database.Driver.
// It is safe for concurrent use by multiple goroutines.
type Driver struct {
	db      *sql.DB
	eng     Engine
	onClose []func()
}

// New wraps an open pool. It does not ping.
func New(db *sql.DB, eng Engine) *Driver {
	return &Driver{db: db, eng: eng}
}

// Open applies the pool settings from cfg to db and pings it within the
// configured connect timeout. db is closed if the ping fails.
func Open(ctx context.Context, db *sql.DB, cfg config.Database, eng Engine) (*Driver, error) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	db.SetConnMaxIdleTime(cfg.MaxConnIdleTime)

	d := New(db, eng)

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	if err := d.Ping(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// DB exposes the underlying pool.
func (d *Driver) DB() *sql.DB { return d.db }

// OnClose registers fn to run after the pool is closed, for resources
// that outlive *sql.DB such as a pgxpool.
func (d *Driver) OnClose(fn func()) { d.onClose = append(d.onClose, fn) }

// --- database.Driver implementation ---

func (d *Driver) Dialect() query.Dialect { return d.eng.Dialect }

func (d *Driver) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return d.mapError(err, "ping failed")
	}
	return nil
}

func (d *Driver) Close() error {
	err := d.db.Close()
	for _, fn := range d.onClose {
		fn()
	}
	if err != nil {
		return d.mapError(err, "close failed")
	}
	return nil
}

func (d *Driver) Exec(ctx context.Context, st query.Statement) (database.ExecResult, error) {
	if st.Returning != "" {
		var id int64
		if err := d.db.QueryRowContext(ctx, st.SQL, st.Args...).Scan(&id); err != nil {
			return database.ExecResult{}, d.mapError(err, "exec failed")
		}
		return database.ExecResult{RowsAffected: 1, LastInsertID: id}, nil
	}

	res, err := d.db.ExecContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return database.ExecResult{}, d.mapError(err, "exec failed")
	}
	return result(res), nil
}

func (d *Driver) Query(ctx context.Context, st query.Statement) (database.Rows, error) {
	rows, err := d.db.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, d.mapError(err, "query failed")
	}
	return rows, nil
}

func (d *Driver) Prepare(ctx context.Context, st query.Statement) (database.NativeStmt, error) {
	ps, err := d.db.PrepareContext(ctx, st.SQL)
	if err != nil {
		return nil, d.mapError(err, "prepare failed")
	}
	return &stmt{d: d, ps: ps, sql: st.SQL, returning: st.Returning != ""}, nil
}

func (d *Driver) ListTables(ctx context.Context) ([]string, error) {
	return d.names(ctx, "failed to list tables", d.eng.ListTables)
}

func (d *Driver) TableExists(ctx context.Context, table string) (bool, error) {
	var exists int
	err := d.db.QueryRowContext(ctx, d.eng.TableExists, table).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, d.mapError(err, "failed to check table existence")
	}
	return true, nil
}

func (d *Driver) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := d.names(ctx, "failed to fetch columns", d.eng.Columns, table)
	if err != nil {
		return nil, errs.WithTable(err, table)
	}
	return cols, nil
}

// names runs a catalog query returning one string column.
func (d *Driver) names(ctx context.Context, msg, q string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, d.mapError(err, msg)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, d.mapError(err, msg)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, d.mapError(err, msg)
	}
	return out, nil
}

func result(res sql.Result) database.ExecResult {
	var out database.ExecResult
	out.RowsAffected, _ = res.RowsAffected()
	// Not every engine reports an id; zero means unknown.
	out.LastInsertID, _ = res.LastInsertId()
	return out
}
