package database

import (
	"context"
	"slices"
	"sync"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
	"github.com/koustreak/rowbind/internal/query"
	"github.com/koustreak/rowbind/internal/schema"
)

// Stmt manages one prepared statement: its parameters, its batch buffer
// and the lifecycle of the native handle behind it.
//
// Before executing, Stmt checks whether the native handle is closed. If it
// is and auto reset is on, the handle is recompiled from the stored SQL;
// otherwise the call fails with ErrKindStatementClosed. A failed execution
// with auto reset on also recompiles the handle, so the next call starts
// fresh, and still returns the error.
//
// Execution holds the owning Database's mutation lock.
type Stmt struct {
	drv   Driver
	lock  sync.Locker
	log   *logger.Logger
	table string
	st    query.Statement

	native    NativeStmt
	params    []any
	batch     [][]any
	autoReset bool
}

func newStmt(ctx context.Context, db *Database, table string, st query.Statement) (*Stmt, error) {
	s := &Stmt{
		drv:       db.drv,
		lock:      &db.mu,
		log:       db.log.With().Str("statement", st.SQL).Logger(),
		table:     table,
		st:        st,
		autoReset: db.autoReset,
	}
	if err := s.reset(ctx); err != nil {
		return nil, err
	}
	// Arguments captured while building become the initial parameters.
	for i, a := range st.Args {
		if err := s.setParam(i+1, a, schema.TypeUnsupported); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// SQL returns the statement text.
func (s *Stmt) SQL() string { return s.st.SQL }

// --- Parameters ---

// SetParam binds v to the i-th (1-based) placeholder.
func (s *Stmt) SetParam(i int, v any) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setParam(i, v, schema.TypeUnsupported)
}

// SetParamType binds v to the i-th placeholder as the given column type.
// TypeBlob forces binary serialization.
func (s *Stmt) SetParamType(i int, v any, tag schema.TypeTag) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setParam(i, v, tag)
}

// SetParams replaces all parameters with vals, in order.
func (s *Stmt) SetParams(vals ...any) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setParams(vals)
}

func (s *Stmt) setParams(vals []any) error {
	return s.setTypedParams(vals, nil)
}

// setTypedParams binds vals using the matching tags; values past the end
// of tags have their type inferred.
func (s *Stmt) setTypedParams(vals []any, tags []schema.TypeTag) error {
	s.params = s.params[:0]
	for i, v := range vals {
		tag := schema.TypeUnsupported
		if i < len(tags) {
			tag = tags[i]
		}
		if err := s.setParam(i+1, v, tag); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stmt) setParam(i int, v any, tag schema.TypeTag) error {
	if i < 1 {
		return errs.Newf(errs.ErrKindInvalidInput, "parameter index %d out of range", i).In(s.table)
	}
	dv, err := bindValue(v, tag)
	if err != nil {
		return errs.WithTable(err, s.table)
	}
	for len(s.params) < i {
		s.params = append(s.params, nil)
	}
	s.params[i-1] = dv
	return nil
}

// --- Execution ---

// Exec runs the statement with the current parameters.
func (s *Stmt) Exec(ctx context.Context) (ExecResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.exec(ctx)
}

// Update runs the statement and reports whether any row was affected.
func (s *Stmt) Update(ctx context.Context) (bool, error) {
	res, err := s.Exec(ctx)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// Query runs the statement and returns its rows. The lock is released once
// the rows are open; the caller must Close them.
func (s *Stmt) Query(ctx context.Context) (Rows, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.query(ctx)
}

func (s *Stmt) exec(ctx context.Context) (ExecResult, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return ExecResult{}, err
	}
	res, err := s.native.Exec(ctx, slices.Clone(s.params))
	if err != nil {
		s.failed(ctx, err)
		return ExecResult{}, errs.WithTable(err, s.table)
	}
	return res, nil
}

func (s *Stmt) query(ctx context.Context) (Rows, error) {
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	rows, err := s.native.Query(ctx, slices.Clone(s.params))
	if err != nil {
		s.failed(ctx, err)
		return nil, errs.WithTable(err, s.table)
	}
	return rows, nil
}

// --- Batches ---

// AddBatch snapshots the current parameters into the batch buffer.
func (s *Stmt) AddBatch() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.addBatch()
}

func (s *Stmt) addBatch() {
	s.batch = append(s.batch, slices.Clone(s.params))
}

// ClearBatch discards buffered parameter rows.
func (s *Stmt) ClearBatch() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.batch = nil
}

// BatchSize returns the number of buffered parameter rows.
func (s *Stmt) BatchSize() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.batch)
}

// ExecuteBatch sends every buffered row in one native batch and returns the
// affected row counts. The buffer is emptied whether or not it succeeds.
func (s *Stmt) ExecuteBatch(ctx context.Context) ([]int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.executeBatch(ctx)
}

func (s *Stmt) executeBatch(ctx context.Context) ([]int64, error) {
	if len(s.batch) == 0 {
		return nil, nil
	}
	if err := s.ensureOpen(ctx); err != nil {
		return nil, err
	}
	batch := s.batch
	s.batch = nil

	counts, err := s.native.ExecBatch(ctx, batch)
	if err != nil {
		s.failed(ctx, err)
		return nil, errs.WithTable(err, s.table)
	}
	return counts, nil
}

// --- Lifecycle ---

// SetAutoReset controls whether a closed or failed handle is recompiled.
func (s *Stmt) SetAutoReset(on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.autoReset = on
}

// Closed reports whether the native handle is closed.
func (s *Stmt) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.native == nil || s.native.Closed()
}

// Reset recompiles the statement from its SQL. Parameters and the batch
// buffer are kept.
func (s *Stmt) Reset(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.reset(ctx)
}

// Close releases the native handle.
func (s *Stmt) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.close()
}

func (s *Stmt) close() error {
	if s.native == nil || s.native.Closed() {
		return nil
	}
	return s.native.Close()
}

func (s *Stmt) reset(ctx context.Context) error {
	if s.native != nil && !s.native.Closed() {
		_ = s.native.Close()
	}
	native, err := s.drv.Prepare(ctx, s.st)
	if err != nil {
		s.native = nil
		return errs.WithTable(err, s.table)
	}
	s.native = native
	return nil
}

func (s *Stmt) ensureOpen(ctx context.Context) error {
	if s.native != nil && !s.native.Closed() {
		return nil
	}
	if !s.autoReset {
		return errs.New(errs.ErrKindStatementClosed, "statement is closed").In(s.table)
	}
	s.log.Debug("reopening closed statement")
	return s.reset(ctx)
}

// failed recompiles the handle after an execution error when auto reset
// is on. The original error is always returned to the caller.
func (s *Stmt) failed(ctx context.Context, cause error) {
	if !s.autoReset {
		return
	}
	s.log.WarnWith("statement failed, resetting", cause, nil)
	if err := s.reset(ctx); err != nil {
		s.log.WarnWith("statement reset failed", err, nil)
	}
}
