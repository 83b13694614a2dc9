package database

import (
	"context"
	"reflect"
	"slices"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/logger"
	"github.com/koustreak/rowbind/internal/query"
	"github.com/koustreak/rowbind/internal/schema"
)

// Register binds model M to its table.
//
// The definition is compiled, the live table is created or altered to
// match, and the model's statements are prepared. Any failure aborts the
// registration and nothing is installed. Registering a type that is
// already registered returns the existing table.
func Register[M any](ctx context.Context, db *Database, def *schema.Definition[M]) (*Table[M], error) {
	mapping, err := def.Compile()
	if err != nil {
		return nil, err
	}

	db.regMu.Lock()
	defer db.regMu.Unlock()

	typ := reflect.TypeFor[M]()
	db.tablesMu.RLock()
	existing, byType := db.byType[typ]
	other, byName := db.byName[mapping.Table()]
	db.tablesMu.RUnlock()

	if byType {
		return existing.(*Table[M]), nil
	}
	if byName {
		return nil, errs.Newf(errs.ErrKindRegistration, "table already bound to another model (%T)", other).In(mapping.Table())
	}

	log := db.log.Table(mapping.Table())

	db.mu.Lock()
	t, err := bindTable(ctx, db, mapping, log)
	db.mu.Unlock()
	if err != nil {
		log.ErrorWith("registration failed", err, nil)
		return nil, err
	}

	db.tablesMu.Lock()
	db.byType[typ] = t
	db.byName[mapping.Table()] = t
	db.tablesMu.Unlock()

	log.InfoWith("table registered", map[string]any{"columns": len(mapping.Columns())})
	return t, nil
}

// reconcile brings the live table in line with columns. Creating a missing
// table is always allowed; adds and drops are gated by the dialect and, for
// drops, by the drop-old-columns policy. Must hold db.mu.
func (db *Database) reconcile(ctx context.Context, table string, columns []*schema.Column, log *logger.Logger) error {
	d := db.dialect

	exists, err := db.drv.TableExists(ctx, table)
	if err != nil {
		return errs.WithTable(err, table)
	}
	if !exists {
		st, err := d.CreateTable(table, columns, db.keys)
		if err != nil {
			return err
		}
		log.DebugWith("creating table", map[string]any{"sql": st.SQL})
		if _, err := db.drv.Exec(ctx, st); err != nil {
			return errs.WithTable(err, table)
		}
		return nil
	}

	live, err := db.drv.Columns(ctx, table)
	if err != nil {
		return errs.WithTable(err, table)
	}
	adds, drops := diffColumns(columns, live)

	if len(adds) > 0 {
		if !d.SupportsAddColumns {
			log.With().Strs("columns", columnNames(adds)).Logger().
				Warn("missing columns not added: engine cannot add columns")
		} else {
			stmts, err := d.AddColumns(table, adds, db.keys)
			if err != nil {
				return err
			}
			if err := db.execAll(ctx, table, stmts, log); err != nil {
				return err
			}
		}
	}

	if len(drops) > 0 {
		switch {
		case !d.SupportsDropColumns:
			log.With().Strs("columns", drops).Logger().Warn("old columns kept: engine cannot drop columns")
		case !db.dropOldColumns:
			log.With().Strs("columns", drops).Logger().Warn("old columns kept: dropping is disabled")
		default:
			if err := db.execAll(ctx, table, d.DropColumns(table, drops), log); err != nil {
				return err
			}
		}
	}
	return nil
}

func (db *Database) execAll(ctx context.Context, table string, stmts []query.Statement, log *logger.Logger) error {
	for _, st := range stmts {
		log.DebugWith("altering table", map[string]any{"sql": st.SQL})
		if _, err := db.drv.Exec(ctx, st); err != nil {
			return errs.WithTable(err, table)
		}
	}
	return nil
}

// diffColumns returns the declared columns missing from live, in declared
// order, and the live names no longer declared, in live order.
func diffColumns(declared []*schema.Column, live []string) ([]*schema.Column, []string) {
	var adds []*schema.Column
	for _, c := range declared {
		if !slices.Contains(live, c.Name()) {
			adds = append(adds, c)
		}
	}

	var drops []string
	for _, name := range live {
		if !slices.ContainsFunc(declared, func(c *schema.Column) bool { return c.Name() == name }) {
			drops = append(drops, name)
		}
	}
	return adds, drops
}

func columnNames(cols []*schema.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name()
	}
	return names
}
