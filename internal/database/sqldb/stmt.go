package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"

	"github.com/koustreak/rowbind/internal/database"
)

// stmt is a database.NativeStmt over *sql.Stmt. It reports itself closed
// after Close and after any connection-level failure.
type stmt struct {
	d         *Driver
	ps        *sql.Stmt
	sql       string
	returning bool
	closed    atomic.Bool
}

func (s *stmt) Exec(ctx context.Context, args []any) (database.ExecResult, error) {
	if s.returning {
		var id int64
		if err := s.ps.QueryRowContext(ctx, args...).Scan(&id); err != nil {
			return database.ExecResult{}, s.fail(err, "exec failed")
		}
		return database.ExecResult{RowsAffected: 1, LastInsertID: id}, nil
	}

	res, err := s.ps.ExecContext(ctx, args...)
	if err != nil {
		return database.ExecResult{}, s.fail(err, "exec failed")
	}
	return result(res), nil
}

func (s *stmt) Query(ctx context.Context, args []any) (database.Rows, error) {
	rows, err := s.ps.QueryContext(ctx, args...)
	if err != nil {
		return nil, s.fail(err, "query failed")
	}
	return rows, nil
}

// ExecBatch prefers the engine's native batch and otherwise runs every row
// through the prepared statement inside one transaction.
func (s *stmt) ExecBatch(ctx context.Context, batch [][]any) ([]int64, error) {
	if s.d.eng.Batch != nil {
		counts, err := s.nativeBatch(ctx, batch)
		if !errors.Is(err, errors.ErrUnsupported) {
			return counts, err
		}
	}
	return s.txBatch(ctx, batch)
}

func (s *stmt) nativeBatch(ctx context.Context, batch [][]any) ([]int64, error) {
	conn, err := s.d.db.Conn(ctx)
	if err != nil {
		return nil, s.fail(err, "batch failed")
	}
	defer conn.Close()

	counts, err := s.d.eng.Batch(ctx, conn, s.sql, batch)
	if err != nil && !errors.Is(err, errors.ErrUnsupported) {
		return nil, s.fail(err, "batch failed")
	}
	return counts, err
}

func (s *stmt) txBatch(ctx context.Context, batch [][]any) ([]int64, error) {
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.fail(err, "batch failed")
	}
	ts := tx.StmtContext(ctx, s.ps)
	defer ts.Close()

	counts := make([]int64, len(batch))
	for i, args := range batch {
		res, err := ts.ExecContext(ctx, args...)
		if err != nil {
			_ = tx.Rollback()
			return nil, s.fail(err, "batch failed")
		}
		counts[i], _ = res.RowsAffected()
	}
	if err := tx.Commit(); err != nil {
		return nil, s.fail(err, "batch commit failed")
	}
	return counts, nil
}

func (s *stmt) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.ps.Close(); err != nil {
		return s.d.mapError(err, "close failed")
	}
	return nil
}

func (s *stmt) Closed() bool { return s.closed.Load() }

// fail maps err and marks the statement closed when the pool or the
// connection under it is gone.
func (s *stmt) fail(err error, msg string) error {
	if connectionLost(err) {
		s.closed.Store(true)
	}
	return s.d.mapError(err, msg)
}
