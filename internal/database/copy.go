package database

import (
	"context"

	"github.com/koustreak/rowbind/internal/errs"
)

// Copy streams every row of t into dst, registering M there from the same
// definition when it is not registered yet. Rows whose id exists in dst
// are updated; the others are inserted and receive dst's next id. It
// returns the number of rows written.
func (t *Table[M]) Copy(ctx context.Context, dst *Database) (int, error) {
	if dst == t.db {
		return 0, errs.New(errs.ErrKindInvalidInput, "copy onto the same database").In(t.Name())
	}

	target, err := Lookup[M](dst)
	if errs.IsNotFound(err) {
		target, err = Register(ctx, dst, t.Definition())
	}
	if err != nil {
		return 0, err
	}

	n := 0
	err = t.Select().OrderBy(t.mapping.IDColumn().Name(), false).Each(ctx, func(v *M) error {
		if err := target.Save(ctx, v); err != nil {
			return err
		}
		n++
		return nil
	})
	if err == nil {
		t.log.InfoWith("table copied", map[string]any{"rows": n})
	}
	return n, err
}
