package database

import (
	"context"
	"errors"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/query"
	"github.com/koustreak/rowbind/internal/schema"
)

// errStop ends a scan early without reporting an error.
var errStop = errors.New("stop")

// SelectQuery is a typed SELECT over a registered table. It selects every
// column of M in column order.
//
//	rows, err := database.Select[Entry](db).
//	    Where().Equals("name", "a").Or().Greater("amount", 10).Done().
//	    OrderBy("id", true).
//	    Limit(20).
//	    Results(ctx)
type SelectQuery[M any] struct {
	t   *Table[M]
	b   *query.SelectBuilder
	err error
}

// Select starts a query over M's table. An unregistered M surfaces as
// ErrKindNotFound when the query runs.
func Select[M any](db *Database) *SelectQuery[M] {
	t, err := Lookup[M](db)
	if err != nil {
		return &SelectQuery[M]{err: err, b: query.Generic().Select("")}
	}
	return t.Select()
}

// Select starts a query over the table.
func (t *Table[M]) Select() *SelectQuery[M] {
	cols := columnNames(t.mapping.Columns())
	return &SelectQuery[M]{t: t, b: t.db.dialect.Select(t.Name(), cols...)}
}

// Where opens the WHERE chain. Only M's columns may be compared.
func (q *SelectQuery[M]) Where() *query.Where[*SelectQuery[M]] {
	return query.Bind(q.b.Conditions(), q)
}

// OrderBy appends an ORDER BY entry.
func (q *SelectQuery[M]) OrderBy(column string, desc bool) *SelectQuery[M] {
	q.b.OrderBy(column, desc)
	return q
}

// Limit caps the result at n rows.
func (q *SelectQuery[M]) Limit(n int) *SelectQuery[M] {
	q.b.Limit(n)
	return q
}

// Range skips offset rows and returns at most count.
func (q *SelectQuery[M]) Range(offset, count int) *SelectQuery[M] {
	q.b.Range(offset, count)
	return q
}

// Statement renders the query.
func (q *SelectQuery[M]) Statement() (query.Statement, error) {
	if q.err != nil {
		return query.Statement{}, q.err
	}
	return q.b.Build()
}

// SQL renders the query text.
func (q *SelectQuery[M]) SQL() (string, error) {
	st, err := q.Statement()
	return st.SQL, err
}

// Results runs the query and returns every row.
func (q *SelectQuery[M]) Results(ctx context.Context) ([]*M, error) {
	var out []*M
	err := q.Each(ctx, func(v *M) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// First returns the first row. No rows is ErrKindNotFound.
func (q *SelectQuery[M]) First(ctx context.Context) (*M, error) {
	var out *M
	err := q.Each(ctx, func(v *M) error {
		out = v
		return errStop
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errs.New(errs.ErrKindNotFound, "no rows").In(q.t.Name())
	}
	return out, nil
}

// Each runs the query and calls fn for every row until fn returns an
// error.
func (q *SelectQuery[M]) Each(ctx context.Context, fn func(*M) error) error {
	st, err := q.Statement()
	if err != nil {
		return err
	}

	q.t.db.mu.Lock()
	rows, err := q.t.db.drv.Query(ctx, st)
	q.t.db.mu.Unlock()
	if err != nil {
		return errs.WithTable(err, q.t.Name())
	}
	return errs.WithTable(scanRows(rows, q.t.mapping, fn), q.t.Name())
}

// Prepare compiles the query into a reusable Selection. Values given to
// the WHERE comparators become its initial parameters.
func (q *SelectQuery[M]) Prepare(ctx context.Context) (*Selection[M], error) {
	st, err := q.Statement()
	if err != nil {
		return nil, err
	}

	db := q.t.db
	db.mu.Lock()
	defer db.mu.Unlock()
	s, err := newStmt(ctx, db, q.t.Name(), st)
	if err != nil {
		return nil, err
	}
	return &Selection[M]{t: q.t, stmt: s}, nil
}

// Selection is a prepared SelectQuery.
type Selection[M any] struct {
	t    *Table[M]
	stmt *Stmt
}

// SetParam rebinds the i-th (1-based) WHERE value.
func (s *Selection[M]) SetParam(i int, v any) error { return s.stmt.SetParam(i, v) }

// Stmt exposes the underlying statement.
func (s *Selection[M]) Stmt() *Stmt { return s.stmt }

// Results runs the selection and returns every row.
func (s *Selection[M]) Results(ctx context.Context) ([]*M, error) {
	var out []*M
	err := s.Each(ctx, func(v *M) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// Each runs the selection and calls fn for every row.
func (s *Selection[M]) Each(ctx context.Context, fn func(*M) error) error {
	rows, err := s.stmt.Query(ctx)
	if err != nil {
		return err
	}
	return errs.WithTable(scanRows(rows, s.t.mapping, fn), s.t.Name())
}

// Close releases the prepared statement.
func (s *Selection[M]) Close() error { return s.stmt.Close() }

// scanRows decodes each row into a fresh model and hands it to fn. It
// always closes rows.
func scanRows[M any](rows Rows, m *schema.Mapping[M], fn func(*M) error) error {
	defer rows.Close()

	for rows.Next() {
		v := m.New()
		dests, finish := m.Dests(v)
		if err := rows.Scan(dests...); err != nil {
			return errs.Wrap(errs.ErrKindQueryFailed, "scan row", err)
		}
		if err := finish(); err != nil {
			return errs.Wrap(errs.ErrKindUnsupportedType, "decode row", err)
		}
		if err := fn(v); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errs.Wrap(errs.ErrKindQueryFailed, "iterate rows", err)
	}
	return nil
}
