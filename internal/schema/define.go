package schema

import (
	"database/sql"
	"encoding"
	"errors"
	"reflect"
	"slices"
	"sort"

	"github.com/koustreak/rowbind/internal/errs"
)

// Field binds one Column to its location inside a model M.
type Field[M any] struct {
	col   *Column
	value func(*M) any
	dest  func(*M) (any, func() error)
	getID func(*M) int64
	setID func(*M, int64)
}

// Column returns the field's metadata.
func (f Field[M]) Column() *Column { return f.col }

// Value returns the field's current value, ready to be bound as a parameter.
func (f Field[M]) Value(m *M) any { return f.value(m) }

// Dest returns a scan destination for the field and a hook that copies the
// scanned value into m. The hook is nil when dest writes m directly.
func (f Field[M]) Dest(m *M) (any, func() error) { return f.dest(m) }

// Col declares a column stored in the field returned by ptr.
//
//	schema.Col("name", func(e *Entry) *string { return &e.Name }, schema.NotNull())
func Col[M, V any](name string, ptr func(*M) *V, opts ...Option) Field[M] {
	col := newColumn(name, reflect.TypeFor[V](), opts)
	f := Field[M]{col: col}

	f.value = func(m *M) any {
		p := ptr(m)
		if col.tag == TypeBlob && !col.native.Implements(marshalerType) {
			return p
		}
		return *p
	}
	f.dest = func(m *M) (any, func() error) {
		p := ptr(m)
		switch {
		case col.tag == TypeBlob:
			var raw sql.Null[[]byte]
			return &raw, func() error {
				if !raw.Valid {
					var zero V
					*p = zero
					return nil
				}
				u, ok := any(p).(encoding.BinaryUnmarshaler)
				if !ok {
					return errs.New(errs.ErrKindUnsupportedType, "field cannot unmarshal binary").On(col.name)
				}
				return u.UnmarshalBinary(raw.V)
			}
		case col.notNull:
			return p, nil
		default:
			var n sql.Null[V]
			return &n, func() error {
				if n.Valid {
					*p = n.V
				} else {
					var zero V
					*p = zero
				}
				return nil
			}
		}
	}
	f.getID, f.setID = idAccess(ptr)
	return f
}

// ID declares the identity column. Its Go type must be an integer; the
// engine assigns its value on insert.
func ID[M, V any](name string, ptr func(*M) *V, opts ...Option) Field[M] {
	return Col(name, ptr, append(opts, asID())...)
}

func idAccess[M, V any](ptr func(*M) *V) (func(*M) int64, func(*M, int64)) {
	get := func(m *M) int64 {
		rv := reflect.ValueOf(ptr(m)).Elem()
		switch {
		case rv.CanInt():
			return rv.Int()
		case rv.CanUint():
			return int64(rv.Uint())
		}
		return 0
	}
	set := func(m *M, id int64) {
		rv := reflect.ValueOf(ptr(m)).Elem()
		switch {
		case rv.CanInt():
			rv.SetInt(id)
		case rv.CanUint():
			rv.SetUint(uint64(id))
		}
	}
	return get, set
}

// Definition is the declared column set of a model type.
type Definition[M any] struct {
	table   string
	fields  []Field[M]
	factory func() *M
}

// Define starts a definition of model M stored in table.
func Define[M any](table string, fields ...Field[M]) *Definition[M] {
	return &Definition[M]{table: table, fields: fields}
}

// WithFactory overrides how blank models are created for query results.
func (d *Definition[M]) WithFactory(fn func() *M) *Definition[M] {
	d.factory = fn
	return d
}

// Table returns the declared table name.
func (d *Definition[M]) Table() string { return d.table }

// Compile validates the definition and orders its columns.
//
// Columns with an explicit Position come first, ascending; equal positions
// keep declaration order. Columns without a position follow in declaration
// order.
func (d *Definition[M]) Compile() (*Mapping[M], error) {
	if d.table == "" {
		return nil, errs.New(errs.ErrKindRegistration, "table name is required")
	}
	if len(d.fields) == 0 {
		return nil, errs.New(errs.ErrKindRegistration, "no columns declared").In(d.table)
	}

	seen := make(map[string]bool, len(d.fields))
	for _, f := range d.fields {
		name := f.col.name
		if name == "" {
			return nil, errs.New(errs.ErrKindRegistration, "column name is required").In(d.table)
		}
		if seen[name] {
			return nil, errs.New(errs.ErrKindRegistration, "duplicate column").In(d.table).On(name)
		}
		seen[name] = true
	}

	id := -1
	for i, f := range d.fields {
		if !f.col.id {
			continue
		}
		if id >= 0 {
			return nil, errs.Newf(errs.ErrKindRegistration, "multiple primary columns (%s, %s)",
				d.fields[id].col.name, f.col.name).In(d.table)
		}
		if !TypeOf(f.col.native).Integral() || !f.col.tag.Integral() {
			return nil, errs.Newf(errs.ErrKindRegistration, "id column must be integral, got %s",
				f.col.native).In(d.table).On(f.col.name)
		}
		id = i
	}
	if id < 0 {
		return nil, errs.New(errs.ErrKindRegistration, "missing primary column").In(d.table)
	}

	for _, f := range d.fields {
		if err := validateType(f.col); err != nil {
			return nil, err.In(d.table).On(f.col.name)
		}
		for _, ix := range f.col.indices {
			if ix.Kind == "" {
				return nil, errs.New(errs.ErrKindRegistration, "index without kind").In(d.table).On(f.col.name)
			}
		}
	}

	ordered := slices.Clone(d.fields)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].col, ordered[j].col
		switch {
		case a.Ordered() && b.Ordered():
			return a.position < b.position
		case a.Ordered():
			return true
		default:
			return false
		}
	})

	m := &Mapping[M]{
		def:     d,
		table:   d.table,
		fields:  ordered,
		columns: make([]*Column, len(ordered)),
		factory: d.factory,
	}
	for i, f := range ordered {
		m.columns[i] = f.col
		if f.col.id {
			m.id = i
		}
	}
	if m.factory == nil {
		m.factory = func() *M { return new(M) }
	}
	return m, nil
}

func validateType(c *Column) *errs.Error {
	if c.tag == TypeUnsupported {
		return errs.Newf(errs.ErrKindUnsupportedType, "no column type for %s", c.native)
	}
	if c.tag == TypeBlob && !Serializable(c.native) {
		return errs.Newf(errs.ErrKindUnsupportedType, "%s is not serializable", c.native)
	}
	return nil
}

// Mapping is a compiled Definition: validated, ordered and immutable.
type Mapping[M any] struct {
	def     *Definition[M]
	table   string
	fields  []Field[M]
	columns []*Column
	id      int
	factory func() *M
}

func (m *Mapping[M]) Table() string              { return m.table }
func (m *Mapping[M]) Definition() *Definition[M] { return m.def }
func (m *Mapping[M]) Fields() []Field[M]         { return slices.Clone(m.fields) }
func (m *Mapping[M]) Columns() []*Column         { return slices.Clone(m.columns) }
func (m *Mapping[M]) IDColumn() *Column          { return m.columns[m.id] }

// Column looks a column up by name.
func (m *Mapping[M]) Column(name string) (*Column, bool) {
	for _, c := range m.columns {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

// DataColumns returns every column except the id, in order.
func (m *Mapping[M]) DataColumns() []*Column {
	out := make([]*Column, 0, len(m.columns)-1)
	for _, c := range m.columns {
		if !c.id {
			out = append(out, c)
		}
	}
	return out
}

// New returns a blank model.
func (m *Mapping[M]) New() *M { return m.factory() }

// IDOf reads the id of v.
func (m *Mapping[M]) IDOf(v *M) int64 { return m.fields[m.id].getID(v) }

// SetID writes the id of v.
func (m *Mapping[M]) SetID(v *M, id int64) { m.fields[m.id].setID(v, id) }

// Values returns v's column values in column order, without the id.
func (m *Mapping[M]) Values(v *M) []any {
	out := make([]any, 0, len(m.fields)-1)
	for _, f := range m.fields {
		if !f.col.id {
			out = append(out, f.Value(v))
		}
	}
	return out
}

// DataTypes returns the type tags matching Values, so binding can encode
// each value the way its column is declared.
func (m *Mapping[M]) DataTypes() []TypeTag {
	out := make([]TypeTag, 0, len(m.columns)-1)
	for _, f := range m.fields {
		if !f.col.id {
			out = append(out, f.col.tag)
		}
	}
	return out
}

// Dests returns scan destinations for every column of v and a hook to run
// after Scan.
func (m *Mapping[M]) Dests(v *M) ([]any, func() error) {
	dests := make([]any, len(m.fields))
	var hooks []func() error
	for i, f := range m.fields {
		d, hook := f.Dest(v)
		dests[i] = d
		if hook != nil {
			hooks = append(hooks, hook)
		}
	}
	return dests, func() error {
		var err error
		for _, h := range hooks {
			err = errors.Join(err, h())
		}
		return err
	}
}
