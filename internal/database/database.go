// Package database binds Go models to tables on a live engine.
//
// A Database owns one Driver. Register compiles a model definition,
// reconciles the live table with it and prepares the model's DML; the
// returned Table performs CRUD, batches and typed selects. All mutations
// and statement executions on one Database are serialized by a single
// lock.
//
// Usage:
//
//	db := database.New(drv, database.WithLogger(log))
//	entries, err := database.Register(ctx, db, schema.Define("entries",
//	    schema.ID("id", func(e *Entry) *int64 { return &e.ID }),
//	    schema.Col("name", func(e *Entry) *string { return &e.Name }),
//	))
//	err = entries.Insert(ctx, &Entry{Name: "a"})
//	rows, err := entries.Select().Where().Equals("name", "a").Done().Results(ctx)
package database

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
	"github.com/koustreak/rowbind/internal/query"
	"github.com/koustreak/rowbind/internal/schema"
)

// Database is a handle on one engine plus the tables registered on it.
// It is safe for concurrent use.
type Database struct {
	drv     Driver
	dialect query.Dialect
	log     *logger.Logger
	keys    *schema.KeyRegistry

	// mu serializes every mutation and statement execution.
	mu sync.Mutex

	// regMu serializes registrations and policy changes.
	regMu          sync.Mutex
	dropOldColumns bool
	autoReset      bool

	tablesMu sync.RWMutex
	byType   map[reflect.Type]registered
	byName   map[string]registered
}

// Option configures a Database.
type Option func(*Database)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *logger.Logger) Option {
	return func(db *Database) { db.log = l }
}

// WithDropOldColumns allows registration to drop undeclared live columns.
func WithDropOldColumns(on bool) Option {
	return func(db *Database) { db.dropOldColumns = on }
}

// WithAutoReset sets the auto reset default for prepared statements.
func WithAutoReset(on bool) Option {
	return func(db *Database) { db.autoReset = on }
}

// WithKeys registers constraint renderers on top of the engine's.
func WithKeys(keys ...schema.Key) Option {
	return func(db *Database) {
		for _, k := range keys {
			db.keys.Register(k)
		}
	}
}

// WithDialect replaces the driver's dialect, e.g. to narrow the type map.
func WithDialect(d query.Dialect) Option {
	return func(db *Database) { db.dialect = d }
}

// New wraps drv. Statements auto reset by default; destructive column
// drops are off.
func New(drv Driver, opts ...Option) *Database {
	db := &Database{
		drv:       drv,
		dialect:   drv.Dialect(),
		log:       logger.Nop(),
		keys:      schema.DefaultKeys(),
		autoReset: true,
		byType:    make(map[reflect.Type]registered),
		byName:    make(map[string]registered),
	}
	for _, k := range db.dialect.Keys {
		db.keys.Register(k)
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

func (db *Database) Driver() Driver         { return db.drv }
func (db *Database) Dialect() query.Dialect { return db.dialect }
func (db *Database) Logger() *logger.Logger { return db.log }

// SetDropOldColumns governs whether later registrations drop live columns
// the model no longer declares.
func (db *Database) SetDropOldColumns(on bool) {
	db.regMu.Lock()
	defer db.regMu.Unlock()
	db.dropOldColumns = on
}

// RegisterKey adds or replaces the renderer for k's kind. It affects
// tables registered afterwards.
func (db *Database) RegisterKey(k schema.Key) {
	db.regMu.Lock()
	defer db.regMu.Unlock()
	db.keys.Register(k)
}

// Ping verifies the engine is reachable.
func (db *Database) Ping(ctx context.Context) error {
	return db.drv.Ping(ctx)
}

// Tables lists the registered table names, sorted.
func (db *Database) Tables() []string {
	db.tablesMu.RLock()
	defer db.tablesMu.RUnlock()

	names := make([]string, 0, len(db.byName))
	for name := range db.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec runs a one-off statement under the mutation lock.
func (db *Database) Exec(ctx context.Context, st query.Statement) (ExecResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.drv.Exec(ctx, st)
}

// Prepare compiles a reusable statement bound to this Database's lock.
func (db *Database) Prepare(ctx context.Context, st query.Statement) (*Stmt, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return newStmt(ctx, db, "", st)
}

// Close releases every registered table's statements, then the driver.
func (db *Database) Close() error {
	db.regMu.Lock()
	defer db.regMu.Unlock()

	db.tablesMu.Lock()
	tables := db.byName
	db.byType = make(map[reflect.Type]registered)
	db.byName = make(map[string]registered)
	db.tablesMu.Unlock()

	db.mu.Lock()
	var err error
	for _, t := range tables {
		err = errors.Join(err, t.close())
	}
	db.mu.Unlock()

	return errors.Join(err, db.drv.Close())
}

// --- Model-agnostic operations ---

// Save inserts or updates model, a pointer to a registered model type.
func (db *Database) Save(ctx context.Context, model any) error {
	t, err := db.lookupValue(model)
	if err != nil {
		return err
	}
	return t.saveAny(ctx, model)
}

// Insert inserts model and assigns its id.
func (db *Database) Insert(ctx context.Context, model any) error {
	t, err := db.lookupValue(model)
	if err != nil {
		return err
	}
	return t.insertAny(ctx, model)
}

// Update writes model's columns to the row with its id.
func (db *Database) Update(ctx context.Context, model any) (bool, error) {
	t, err := db.lookupValue(model)
	if err != nil {
		return false, err
	}
	return t.updateAny(ctx, model)
}

// Delete removes the row with model's id.
func (db *Database) Delete(ctx context.Context, model any) (bool, error) {
	t, err := db.lookupValue(model)
	if err != nil {
		return false, err
	}
	return t.deleteAny(ctx, model)
}

// registered is the type-erased view of a Table.
type registered interface {
	name() string
	close() error
	saveAny(ctx context.Context, model any) error
	insertAny(ctx context.Context, model any) error
	updateAny(ctx context.Context, model any) (bool, error)
	deleteAny(ctx context.Context, model any) (bool, error)
}

func (db *Database) lookupValue(model any) (registered, error) {
	if model == nil {
		return nil, errs.New(errs.ErrKindInvalidInput, "nil model")
	}
	typ := reflect.TypeOf(model)
	if typ.Kind() != reflect.Pointer {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "model must be a pointer, got %s", typ)
	}

	db.tablesMu.RLock()
	defer db.tablesMu.RUnlock()
	t, ok := db.byType[typ.Elem()]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "model %s is not registered", typ.Elem())
	}
	return t, nil
}

// Lookup returns the table registered for M.
func Lookup[M any](db *Database) (*Table[M], error) {
	typ := reflect.TypeFor[M]()

	db.tablesMu.RLock()
	defer db.tablesMu.RUnlock()
	t, ok := db.byType[typ]
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "model %s is not registered", typ)
	}
	return t.(*Table[M]), nil
}
