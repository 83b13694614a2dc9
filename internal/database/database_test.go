package database

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
	"github.com/koustreak/rowbind/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Entry struct {
	ID     int64
	Name   string
	Amount int
}

func entryDef() *schema.Definition[Entry] {
	return schema.Define("entries",
		schema.ID("id", func(e *Entry) *int64 { return &e.ID }),
		schema.Col("name", func(e *Entry) *string { return &e.Name }, schema.NotNull()),
		schema.Col("amount", func(e *Entry) *int { return &e.Amount }),
	)
}

func setup(t *testing.T, opts ...Option) (*spyDriver, *Database, *Table[Entry]) {
	t.Helper()
	spy := newSpy()
	db := New(spy, opts...)
	entries, err := Register(context.Background(), db, entryDef())
	require.NoError(t, err)
	return spy, db, entries
}

func TestRegister_CreatesTable(t *testing.T) {
	spy, db, entries := setup(t)

	assert.Equal(t, []string{
		"CREATE TABLE entries (id BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT, name TEXT NOT NULL, amount BIGINT);",
	}, spy.execs)
	assert.Equal(t, []string{
		"INSERT INTO entries (name, amount) VALUES (?, ?)",
		"UPDATE entries SET name=?, amount=? WHERE id=?",
		"DELETE FROM entries WHERE id=?",
		"SELECT 1 FROM entries WHERE id=?",
		"SELECT id, name, amount FROM entries WHERE id=?",
	}, spy.prepared)
	assert.Equal(t, []string{"entries"}, db.Tables())

	again, err := Register(context.Background(), db, entryDef())
	require.NoError(t, err)
	assert.Same(t, entries, again)
	assert.Equal(t, 1, spy.count("CREATE TABLE"))

	found, err := Lookup[Entry](db)
	require.NoError(t, err)
	assert.Same(t, entries, found)
}

func TestRegister_DeterministicCreate(t *testing.T) {
	var first string
	for i := 0; i < 5; i++ {
		spy, _, _ := setup(t)
		require.Len(t, spy.execs, 1)
		if i == 0 {
			first = spy.execs[0]
		}
		assert.Equal(t, first, spy.execs[0])
	}
}

func TestRegister_ExactlyOneID(t *testing.T) {
	tests := []struct {
		name string
		def  *schema.Definition[Entry]
	}{
		{
			name: "no id",
			def:  schema.Define("entries", schema.Col("name", func(e *Entry) *string { return &e.Name })),
		},
		{
			name: "two ids",
			def: schema.Define("entries",
				schema.ID("id", func(e *Entry) *int64 { return &e.ID }),
				schema.ID("amount", func(e *Entry) *int { return &e.Amount }),
			),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			db := New(spy)

			_, err := Register(context.Background(), db, tt.def)
			require.Error(t, err)
			assert.True(t, errs.IsRegistration(err))
			assert.Empty(t, db.Tables())
			assert.Empty(t, spy.execs)
			assert.Empty(t, spy.prepared)

			_, err = Lookup[Entry](db)
			assert.True(t, errs.IsNotFound(err))
		})
	}
}

func TestRegister_FailureLeavesNothingInstalled(t *testing.T) {
	spy := newSpy()
	spy.failPrepare = "DELETE"
	db := New(spy)

	_, err := Register(context.Background(), db, entryDef())
	require.Error(t, err)
	assert.True(t, errs.IsQueryFailed(err))
	assert.Contains(t, err.Error(), "table=entries")
	assert.Empty(t, db.Tables())
}

func TestRegister_TableNameTaken(t *testing.T) {
	type Other struct{ ID int64 }
	_, db, _ := setup(t)

	_, err := Register(context.Background(), db, schema.Define("entries",
		schema.ID("id", func(o *Other) *int64 { return &o.ID }),
	))
	assert.True(t, errs.IsRegistration(err))
}

func TestReconcile_Gating(t *testing.T) {
	tests := []struct {
		name      string
		addable   bool
		droppable bool
		dropOld   bool
		adds      int
		drops     int
	}{
		{name: "add only, drops disabled", addable: true, droppable: true, adds: 1},
		{name: "drops enabled", addable: true, droppable: true, dropOld: true, adds: 1, drops: 1},
		{name: "engine cannot drop", addable: true, dropOld: true, adds: 1},
		{name: "engine cannot alter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spy := newSpy()
			spy.dialect.SupportsAddColumns = tt.addable
			spy.dialect.SupportsDropColumns = tt.droppable
			spy.live["entries"] = []string{"id", "name", "legacy", "obsolete"}

			db := New(spy, WithDropOldColumns(tt.dropOld))
			_, err := Register(context.Background(), db, entryDef())
			require.NoError(t, err)

			assert.Equal(t, 0, spy.count("CREATE TABLE"))
			assert.Equal(t, tt.adds, spy.count("ALTER TABLE entries ADD COLUMN"))
			assert.Equal(t, tt.drops, spy.count("ALTER TABLE entries DROP COLUMN"))
			if tt.adds > 0 {
				assert.Contains(t, spy.execs, "ALTER TABLE entries ADD COLUMN amount BIGINT;")
			}
			if tt.drops > 0 {
				assert.Contains(t, spy.execs, "ALTER TABLE entries DROP COLUMN legacy, DROP COLUMN obsolete;")
			}
		})
	}
}

func TestReconcile_LogsKeptColumns(t *testing.T) {
	buf := &bytes.Buffer{}
	spy := newSpy()
	spy.live["entries"] = []string{"id", "name", "amount", "legacy", "obsolete"}
	db := New(spy, WithLogger(logger.New(&logger.Config{Level: "warn", Format: "json", Output: buf})))

	_, err := Register(context.Background(), db, entryDef())
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"table":"entries"`)
	assert.Contains(t, out, `"columns":["legacy","obsolete"]`)
	assert.Contains(t, out, "old columns kept: dropping is disabled")
}

func TestReconcile_SetDropOldColumns(t *testing.T) {
	spy := newSpy()
	spy.live["entries"] = []string{"id", "name", "amount", "legacy"}
	db := New(spy)
	db.SetDropOldColumns(true)

	_, err := Register(context.Background(), db, entryDef())
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER TABLE entries DROP COLUMN legacy;"}, spy.execs)
}

func TestRegisterKey(t *testing.T) {
	spy := newSpy()
	db := New(spy)
	db.RegisterKey(schema.PrimaryKey{AutoIncrement: "AUTOINCREMENT"})

	_, err := Register(context.Background(), db, entryDef())
	require.NoError(t, err)
	assert.Contains(t, spy.execs[0], "id BIGINT NOT NULL PRIMARY KEY AUTOINCREMENT")
}

func TestSave_Dispatch(t *testing.T) {
	spy, _, entries := setup(t)
	ctx := context.Background()
	spy.existing[5] = true

	fresh := &Entry{Name: "a", Amount: 1}
	require.NoError(t, entries.Save(ctx, fresh))
	assert.Equal(t, 1, spy.count("INSERT"))
	assert.Equal(t, 0, spy.count("UPDATE"))
	assert.Equal(t, int64(1), fresh.ID)

	known := &Entry{ID: 5, Name: "b"}
	require.NoError(t, entries.Save(ctx, known))
	assert.Equal(t, 1, spy.count("INSERT"))
	assert.Equal(t, 1, spy.count("UPDATE"))
	assert.Equal(t, int64(5), known.ID)

	gone := &Entry{ID: 99, Name: "c"}
	require.NoError(t, entries.Save(ctx, gone))
	assert.Equal(t, 2, spy.count("INSERT"))
	assert.Equal(t, 1, spy.count("UPDATE"))
	assert.Equal(t, int64(2), gone.ID)
}

func TestCRUD(t *testing.T) {
	spy, _, entries := setup(t)
	ctx := context.Background()

	e := &Entry{Name: "a", Amount: 1}
	require.NoError(t, entries.Insert(ctx, e))
	assert.Equal(t, int64(1), e.ID)

	ok, err := entries.Exists(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = entries.Update(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = entries.Delete(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = entries.Update(ctx, e)
	require.NoError(t, err)
	assert.False(t, ok)

	spy.rows = [][]any{{int64(3), "c", int64(7)}}
	got, err := entries.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, &Entry{ID: 3, Name: "c", Amount: 7}, got)

	spy.rows = nil
	_, err = entries.Get(ctx, 4)
	assert.True(t, errs.IsNotFound(err))
}

func TestDatabase_ModelAgnostic(t *testing.T) {
	spy, db, _ := setup(t)
	ctx := context.Background()

	e := &Entry{Name: "a"}
	require.NoError(t, db.Save(ctx, e))
	assert.Equal(t, int64(1), e.ID)
	require.NoError(t, db.Insert(ctx, &Entry{Name: "b"}))
	assert.Equal(t, 2, spy.count("INSERT"))

	ok, err := db.Update(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.Delete(ctx, e)
	require.NoError(t, err)
	assert.True(t, ok)

	type Unknown struct{ ID int64 }
	assert.True(t, errs.IsNotFound(db.Save(ctx, &Unknown{})))
	assert.True(t, errs.IsInvalidInput(db.Save(ctx, Entry{})))
	assert.True(t, errs.IsInvalidInput(db.Save(ctx, nil)))
}

func TestBatch_OneNativeCallPerKind(t *testing.T) {
	spy, _, entries := setup(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, entries.AddInsertBatch(&Entry{Name: name}))
	}
	require.NoError(t, entries.AddDeleteBatch(&Entry{ID: 9}))

	require.NoError(t, entries.ExecuteBatch(ctx, BatchInsert))
	require.Len(t, spy.batches, 1)
	assert.Len(t, spy.batches[0], 3)
	assert.Equal(t, "INSERT INTO entries (name, amount) VALUES (?, ?)", spy.batchSQL[0])
	assert.Equal(t, []any{"b", int64(0)}, spy.batches[0][1])
	assert.Equal(t, 0, spy.count("INSERT"), "batched rows must not run one by one")

	// The delete buffer is untouched until its bit is selected.
	require.NoError(t, entries.ExecuteBatch(ctx, BatchInsert|BatchUpdate))
	assert.Len(t, spy.batches, 1)

	require.NoError(t, entries.ExecuteBatch(ctx, BatchAll))
	require.Len(t, spy.batches, 2)
	assert.Equal(t, [][]any{{int64(9)}}, spy.batches[1])
}

func TestBatch_ErrorPropagates(t *testing.T) {
	spy, _, entries := setup(t)
	require.NoError(t, entries.AddUpdateBatch(&Entry{ID: 1, Name: "a"}))

	spy.failExec = errs.New(errs.ErrKindConflict, "duplicate")
	err := entries.ExecuteBatch(context.Background(), BatchUpdate)
	assert.True(t, errs.IsConflict(err))
	assert.Equal(t, 0, entries.update.BatchSize())
}

func TestClose(t *testing.T) {
	spy, db, entries := setup(t)
	require.NoError(t, db.Close())

	assert.True(t, spy.closed)
	assert.True(t, entries.insert.Closed())
	assert.Empty(t, db.Tables())
}

func TestCopy(t *testing.T) {
	spy, src, entries := setup(t)
	ctx := context.Background()
	spy.rows = [][]any{
		{int64(1), "a", int64(1)},
		{int64(2), "b", nil},
	}

	dstSpy := newSpy()
	dstSpy.existing[2] = true
	dst := New(dstSpy)

	n, err := entries.Copy(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, dstSpy.count("CREATE TABLE entries"))
	assert.Equal(t, 1, dstSpy.count("INSERT"))
	assert.Equal(t, 1, dstSpy.count("UPDATE"))
	assert.Contains(t, spy.execs, "SELECT id, name, amount FROM entries ORDER BY id")

	_, err = entries.Copy(ctx, src)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestCopy_WriteFailure(t *testing.T) {
	_, _, entries := setup(t)
	boom := errors.New("boom")

	dst := New(newSpy())
	dstTable, err := Register(context.Background(), dst, entryDef())
	require.NoError(t, err)
	dstTable.db.drv.(*spyDriver).failExec = boom

	entries.db.drv.(*spyDriver).rows = [][]any{{int64(1), "a", int64(1)}}
	_, err = entries.Copy(context.Background(), dst)
	assert.ErrorIs(t, err, boom)
}

// serial has a text Value but is stored in its binary form.
type serial [2]byte

func (s serial) MarshalBinary() ([]byte, error) { return s[:], nil }

func (s *serial) UnmarshalBinary(b []byte) error {
	copy(s[:], b)
	return nil
}

func (s serial) Value() (driver.Value, error) { return fmt.Sprintf("%02x%02x", s[0], s[1]), nil }

type Device struct {
	ID     int64
	Serial serial
}

func TestBind_BlobColumnIgnoresValuer(t *testing.T) {
	spy := newSpy()
	db := New(spy)
	ctx := context.Background()
	devices, err := Register(ctx, db, schema.Define("devices",
		schema.ID("id", func(d *Device) *int64 { return &d.ID }),
		schema.Col("serial", func(d *Device) *serial { return &d.Serial }),
	))
	require.NoError(t, err)

	require.NoError(t, devices.AddInsertBatch(&Device{Serial: serial{0xab, 0xcd}}))
	require.NoError(t, devices.AddUpdateBatch(&Device{ID: 3, Serial: serial{1, 2}}))
	require.NoError(t, devices.ExecuteBatch(ctx, BatchAll))

	require.Len(t, spy.batches, 2)
	assert.Equal(t, [][]any{{[]byte{1, 2}, int64(3)}}, spy.batches[0])
	assert.Equal(t, [][]any{{[]byte{0xab, 0xcd}}}, spy.batches[1])
}

type Marker struct{ ID int64 }

func TestRegister_IDOnly(t *testing.T) {
	spy := newSpy()
	db := New(spy)
	markers, err := Register(context.Background(), db, schema.Define("markers",
		schema.ID("id", func(m *Marker) *int64 { return &m.ID }),
	))
	require.NoError(t, err)
	assert.Contains(t, spy.prepared, "INSERT INTO markers DEFAULT VALUES")
	assert.Contains(t, spy.prepared, "UPDATE markers SET id=id WHERE id=?")

	m := &Marker{}
	require.NoError(t, markers.Save(context.Background(), m))
	assert.Equal(t, int64(1), m.ID)
}

func TestConcurrentCallers(t *testing.T) {
	spy := newSpy()
	db := New(spy)
	ctx := context.Background()

	const workers, perWorker = 8, 20
	var (
		wg    sync.WaitGroup
		idsMu sync.Mutex
		ids   = make(map[int64]bool)
	)
	tables := make([]*Table[Entry], workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := Register(ctx, db, entryDef())
			if !assert.NoError(t, err) {
				return
			}
			tables[w] = entries
			for i := range perWorker {
				e := &Entry{Name: fmt.Sprintf("w%d-%d", w, i)}
				assert.NoError(t, entries.Insert(ctx, e))
				idsMu.Lock()
				ids[e.ID] = true
				idsMu.Unlock()

				assert.NoError(t, entries.AddInsertBatch(e))
				if i%4 == 0 {
					assert.NoError(t, entries.ExecuteBatch(ctx, BatchInsert))
				}
			}
		}()
	}
	wg.Wait()

	for _, tbl := range tables[1:] {
		assert.Same(t, tables[0], tbl)
	}
	assert.Equal(t, 1, spy.count("CREATE TABLE"))
	assert.Len(t, ids, workers*perWorker, "every insert got its own id")

	require.NoError(t, tables[0].ExecuteBatch(ctx, BatchInsert))
	batched := 0
	for _, b := range spy.batches {
		batched += len(b)
	}
	assert.Equal(t, workers*perWorker, batched)
}
