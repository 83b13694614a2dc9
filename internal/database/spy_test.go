package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
)

// spyDriver is an in-memory Driver that records every statement it sees.
type spyDriver struct {
	mu      sync.Mutex
	dialect query.Dialect

	live     map[string][]string // table -> live columns
	existing map[int64]bool      // ids the exists probe finds
	rows     [][]any             // rows returned by other SELECTs

	execs    []string   // one-off and prepared executions
	prepared []string   // every Prepare call
	batches  [][][]any  // one entry per native batch call
	batchSQL []string
	nextID   int64

	failPrepare string // Prepare fails for SQL with this prefix
	failExec    error  // next native execution fails with this
	closed      bool
}

func newSpy() *spyDriver {
	return &spyDriver{
		dialect:  query.Generic(),
		live:     make(map[string][]string),
		existing: make(map[int64]bool),
		nextID:   1,
	}
}

func (d *spyDriver) Dialect() query.Dialect { return d.dialect }

func (d *spyDriver) Exec(_ context.Context, st query.Statement) (ExecResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, st.SQL)
	return ExecResult{}, nil
}

func (d *spyDriver) Query(_ context.Context, st query.Statement) (Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, st.SQL)
	return &spyRows{data: d.rows}, nil
}

func (d *spyDriver) Prepare(_ context.Context, st query.Statement) (NativeStmt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prepared = append(d.prepared, st.SQL)
	if d.failPrepare != "" && strings.HasPrefix(st.SQL, d.failPrepare) {
		return nil, errs.New(errs.ErrKindQueryFailed, "prepare refused")
	}
	return &spyStmt{drv: d, sql: st.SQL}, nil
}

func (d *spyDriver) ListTables(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for name := range d.live {
		names = append(names, name)
	}
	return names, nil
}

func (d *spyDriver) TableExists(_ context.Context, table string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.live[table]
	return ok, nil
}

func (d *spyDriver) Columns(_ context.Context, table string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[table], nil
}

func (d *spyDriver) Ping(context.Context) error { return nil }

func (d *spyDriver) Close() error {
	d.closed = true
	return nil
}

// count returns how many recorded executions start with prefix.
func (d *spyDriver) count(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, s := range d.execs {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func (d *spyDriver) takeFailure() error {
	err := d.failExec
	d.failExec = nil
	return err
}

type spyStmt struct {
	drv    *spyDriver
	sql    string
	closed bool
}

func (s *spyStmt) Exec(_ context.Context, args []any) (ExecResult, error) {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return ExecResult{}, err
	}
	d.execs = append(d.execs, s.sql)

	res := ExecResult{RowsAffected: 1}
	switch {
	case strings.HasPrefix(s.sql, "INSERT"):
		res.LastInsertID = d.nextID
		d.existing[d.nextID] = true
		d.nextID++
	case strings.HasPrefix(s.sql, "UPDATE"), strings.HasPrefix(s.sql, "DELETE"):
		id := args[len(args)-1].(int64)
		if !d.existing[id] {
			res.RowsAffected = 0
		}
		if strings.HasPrefix(s.sql, "DELETE") {
			delete(d.existing, id)
		}
	}
	return res, nil
}

func (s *spyStmt) Query(_ context.Context, args []any) (Rows, error) {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	d.execs = append(d.execs, s.sql)

	if strings.HasPrefix(s.sql, "SELECT 1 ") {
		if d.existing[args[0].(int64)] {
			return &spyRows{data: [][]any{{int64(1)}}}, nil
		}
		return &spyRows{}, nil
	}
	return &spyRows{data: d.rows}, nil
}

func (s *spyStmt) ExecBatch(_ context.Context, batch [][]any) ([]int64, error) {
	d := s.drv
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	d.batches = append(d.batches, batch)
	d.batchSQL = append(d.batchSQL, s.sql)
	counts := make([]int64, len(batch))
	for i := range counts {
		counts[i] = 1
	}
	return counts, nil
}

func (s *spyStmt) Close() error {
	s.closed = true
	return nil
}

func (s *spyStmt) Closed() bool { return s.closed }

type spyRows struct {
	data [][]any
	pos  int
}

func (r *spyRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *spyRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	if len(row) != len(dest) {
		return fmt.Errorf("scan: %d values into %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		if sc, ok := dest[i].(sql.Scanner); ok {
			if err := sc.Scan(v); err != nil {
				return err
			}
			continue
		}
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer {
			return errors.New("scan: destination is not a pointer")
		}
		dv.Elem().Set(reflect.ValueOf(v).Convert(dv.Elem().Type()))
	}
	return nil
}

func (r *spyRows) Close() error { return nil }
func (r *spyRows) Err() error   { return nil }
