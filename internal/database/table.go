package database

import (
	"context"
	"errors"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
	"github.com/koustreak/rowbind/internal/schema"
)

// BatchKind selects which buffered batches ExecuteBatch runs.
type BatchKind int

const (
	BatchUpdate BatchKind = 1 << iota
	BatchInsert
	BatchDelete

	BatchAll = BatchUpdate | BatchInsert | BatchDelete
)

// Table is a model type bound to its live table, with prepared DML.
type Table[M any] struct {
	db      *Database
	mapping *schema.Mapping[M]
	log     *logger.Logger
	types   []schema.TypeTag // data column tags, in Values order

	insert *Stmt
	update *Stmt
	delete *Stmt
	exists *Stmt
	get    *Stmt
}

// bindTable reconciles the schema and prepares the model's statements.
// Must hold db.mu.
func bindTable[M any](ctx context.Context, db *Database, m *schema.Mapping[M], log *logger.Logger) (*Table[M], error) {
	table := m.Table()
	if err := db.reconcile(ctx, table, m.Columns(), log); err != nil {
		return nil, err
	}

	d := db.dialect
	id := m.IDColumn().Name()
	data := columnNames(m.DataColumns())
	t := &Table[M]{db: db, mapping: m, log: log, types: m.DataTypes()}

	get, err := d.Select(table, columnNames(m.Columns())...).Where().Equals(id, nil).Done().Build()
	if err != nil {
		return nil, err
	}

	for _, p := range []struct {
		dst  **Stmt
		stmt func() (*Stmt, error)
	}{
		{&t.insert, func() (*Stmt, error) { return newStmt(ctx, db, table, d.Insert(table, id, data)) }},
		{&t.update, func() (*Stmt, error) { return newStmt(ctx, db, table, d.Update(table, id, data)) }},
		{&t.delete, func() (*Stmt, error) { return newStmt(ctx, db, table, d.Delete(table, id)) }},
		{&t.exists, func() (*Stmt, error) { return newStmt(ctx, db, table, d.Exists(table, id)) }},
		{&t.get, func() (*Stmt, error) { return newStmt(ctx, db, table, get) }},
	} {
		s, err := p.stmt()
		if err != nil {
			_ = t.close()
			return nil, err
		}
		*p.dst = s
	}
	return t, nil
}

func (t *Table[M]) Name() string                      { return t.mapping.Table() }
func (t *Table[M]) Mapping() *schema.Mapping[M]       { return t.mapping }
func (t *Table[M]) Database() *Database               { return t.db }
func (t *Table[M]) Definition() *schema.Definition[M] { return t.mapping.Definition() }

func (t *Table[M]) name() string { return t.mapping.Table() }

func (t *Table[M]) close() error {
	var err error
	for _, s := range []*Stmt{t.insert, t.update, t.delete, t.exists, t.get} {
		if s != nil {
			err = errors.Join(err, s.close())
		}
	}
	return err
}

// --- Single-row operations ---

// Insert adds v as a new row and sets its id to the one the engine assigned.
func (t *Table[M]) Insert(ctx context.Context, v *M) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.insertLocked(ctx, v)
}

// Update writes v's columns to the row with v's id and reports whether a
// row matched.
func (t *Table[M]) Update(ctx context.Context, v *M) (bool, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.updateLocked(ctx, v)
}

// Delete removes the row with v's id and reports whether one existed.
func (t *Table[M]) Delete(ctx context.Context, v *M) (bool, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if err := t.delete.setParams([]any{t.mapping.IDOf(v)}); err != nil {
		return false, err
	}
	res, err := t.delete.exec(ctx)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

// Save updates v when it has a positive id and its row exists, and
// inserts it otherwise.
func (t *Table[M]) Save(ctx context.Context, v *M) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if id := t.mapping.IDOf(v); id > 0 {
		found, err := t.existsLocked(ctx, id)
		if err != nil {
			return err
		}
		if found {
			_, err := t.updateLocked(ctx, v)
			return err
		}
	}
	return t.insertLocked(ctx, v)
}

// Exists reports whether a row with id exists.
func (t *Table[M]) Exists(ctx context.Context, id int64) (bool, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.existsLocked(ctx, id)
}

// Get loads the row with id. A missing row is ErrKindNotFound.
func (t *Table[M]) Get(ctx context.Context, id int64) (*M, error) {
	t.db.mu.Lock()
	if err := t.get.setParams([]any{id}); err != nil {
		t.db.mu.Unlock()
		return nil, err
	}
	rows, err := t.get.query(ctx)
	t.db.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var out *M
	err = scanRows(rows, t.mapping, func(v *M) error {
		out = v
		return errStop
	})
	if err != nil {
		return nil, errs.WithTable(err, t.Name())
	}
	if out == nil {
		return nil, errs.Newf(errs.ErrKindNotFound, "no row with id %d", id).In(t.Name())
	}
	return out, nil
}

func (t *Table[M]) insertLocked(ctx context.Context, v *M) error {
	if err := t.insert.setTypedParams(t.mapping.Values(v), t.types); err != nil {
		return err
	}
	res, err := t.insert.exec(ctx)
	if err != nil {
		return err
	}
	if res.LastInsertID > 0 {
		t.mapping.SetID(v, res.LastInsertID)
	}
	t.log.DebugWith("row inserted", map[string]any{"id": res.LastInsertID})
	return nil
}

func (t *Table[M]) updateLocked(ctx context.Context, v *M) (bool, error) {
	if err := t.update.setTypedParams(t.updateArgs(v), t.types); err != nil {
		return false, err
	}
	res, err := t.update.exec(ctx)
	if err != nil {
		return false, err
	}
	return res.RowsAffected > 0, nil
}

func (t *Table[M]) existsLocked(ctx context.Context, id int64) (bool, error) {
	if err := t.exists.setParams([]any{id}); err != nil {
		return false, err
	}
	rows, err := t.exists.query(ctx)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, errs.WithTable(err, t.Name())
	}
	return found, nil
}

func (t *Table[M]) updateArgs(v *M) []any {
	return append(t.mapping.Values(v), t.mapping.IDOf(v))
}

// --- Batches ---

// AddInsertBatch buffers an insert of v. Ids are not assigned back for
// batched inserts.
func (t *Table[M]) AddInsertBatch(v *M) error {
	return t.addBatch(t.insert, t.mapping.Values(v), t.types)
}

// AddUpdateBatch buffers an update of v.
func (t *Table[M]) AddUpdateBatch(v *M) error {
	return t.addBatch(t.update, t.updateArgs(v), t.types)
}

// AddDeleteBatch buffers a delete of v.
func (t *Table[M]) AddDeleteBatch(v *M) error {
	return t.addBatch(t.delete, []any{t.mapping.IDOf(v)}, nil)
}

func (t *Table[M]) addBatch(s *Stmt, args []any, tags []schema.TypeTag) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if err := s.setTypedParams(args, tags); err != nil {
		return err
	}
	s.addBatch()
	return nil
}

// ExecuteBatch runs the buffered batches selected by kinds, updates first,
// then inserts, then deletes. Each kind is one native batch call. It stops
// at the first failing kind.
func (t *Table[M]) ExecuteBatch(ctx context.Context, kinds BatchKind) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	for _, b := range []struct {
		kind BatchKind
		stmt *Stmt
	}{
		{BatchUpdate, t.update},
		{BatchInsert, t.insert},
		{BatchDelete, t.delete},
	} {
		if kinds&b.kind == 0 {
			continue
		}
		n := len(b.stmt.batch)
		if _, err := b.stmt.executeBatch(ctx); err != nil {
			return err
		}
		if n > 0 {
			t.log.DebugWith("batch executed", map[string]any{"statement": b.stmt.SQL(), "rows": n})
		}
	}
	return nil
}

// --- Type-erased access for Database ---

func (t *Table[M]) cast(model any) (*M, error) {
	v, ok := model.(*M)
	if !ok || v == nil {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "expected non-nil %T", v).In(t.Name())
	}
	return v, nil
}

func (t *Table[M]) saveAny(ctx context.Context, model any) error {
	v, err := t.cast(model)
	if err != nil {
		return err
	}
	return t.Save(ctx, v)
}

func (t *Table[M]) insertAny(ctx context.Context, model any) error {
	v, err := t.cast(model)
	if err != nil {
		return err
	}
	return t.Insert(ctx, v)
}

func (t *Table[M]) updateAny(ctx context.Context, model any) (bool, error) {
	v, err := t.cast(model)
	if err != nil {
		return false, err
	}
	return t.Update(ctx, v)
}

func (t *Table[M]) deleteAny(ctx context.Context, model any) (bool, error) {
	v, err := t.cast(model)
	if err != nil {
		return false, err
	}
	return t.Delete(ctx, v)
}
