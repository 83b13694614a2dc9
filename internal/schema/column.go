package schema

import (
	"reflect"
	"slices"
)

// Unordered marks a column without an explicit position.
const Unordered = -1

// Index is one constraint declaration on a column: a key kind plus the
// free-form arguments its Key renderer understands.
type Index struct {
	Kind KeyKind
	Args []string
}

// Column is the immutable metadata of one persisted field.
type Column struct {
	name          string
	native        reflect.Type
	tag           TypeTag
	position      int
	def           *string
	length        []int
	autoIncrement bool
	notNull       bool
	id            bool
	indices       []Index
	override      bool // tag set explicitly with As
}

func (c *Column) Name() string               { return c.name }
func (c *Column) NativeType() reflect.Type   { return c.native }
func (c *Column) Type() TypeTag              { return c.tag }
func (c *Column) Position() int              { return c.position }
func (c *Column) Length() []int              { return slices.Clone(c.length) }
func (c *Column) AutoIncrement() bool        { return c.autoIncrement }
func (c *Column) NotNull() bool              { return c.notNull }
func (c *Column) IsID() bool                 { return c.id }
func (c *Column) Ordered() bool              { return c.position != Unordered }
func (c *Column) Indices() []Index           { return slices.Clone(c.indices) }
func (c *Column) HasIndex(kind KeyKind) bool { return slices.ContainsFunc(c.indices, func(i Index) bool { return i.Kind == kind }) }

// Default returns the literal default value, if one was declared.
func (c *Column) Default() (string, bool) {
	if c.def == nil {
		return "", false
	}
	return *c.def, true
}

// Option configures a column declaration.
type Option func(*Column)

// Position places the column at an explicit ordinal. Lower positions come
// first; columns without a position follow in declaration order.
func Position(n int) Option {
	return func(c *Column) { c.position = n }
}

// Default sets a literal SQL default, rendered verbatim after DEFAULT.
func Default(literal string) Option {
	return func(c *Column) { c.def = &literal }
}

// Length sets the size parameters, e.g. Length(64) or Length(10, 2).
func Length(n ...int) Option {
	return func(c *Column) { c.length = append([]int(nil), n...) }
}

// NotNull forbids NULL values.
func NotNull() Option {
	return func(c *Column) { c.notNull = true }
}

// AutoIncrement asks the engine to generate values for the column.
func AutoIncrement() Option {
	return func(c *Column) { c.autoIncrement = true }
}

// Unique adds a UNIQUE constraint.
func Unique() Option {
	return WithIndex(KeyUnique)
}

// References adds a foreign key to table.column. An optional action is
// rendered as ON DELETE <action>.
func References(table, column string, onDelete ...string) Option {
	args := []string{table, column}
	args = append(args, onDelete...)
	return WithIndex(KeyForeign, args...)
}

// WithIndex adds a constraint of any registered kind.
func WithIndex(kind KeyKind, args ...string) Option {
	return func(c *Column) {
		c.indices = append(c.indices, Index{Kind: kind, Args: append([]string(nil), args...)})
	}
}

// As overrides the type inferred from the Go field, e.g. to store a
// driver.Valuer as TypeString or to narrow an int64 to TypeInt.
func As(tag TypeTag) Option {
	return func(c *Column) {
		c.tag = tag
		c.override = true
	}
}

// asID marks the identity column. It is primary, auto-incrementing and
// never NULL.
func asID() Option {
	return func(c *Column) {
		c.id = true
		c.autoIncrement = true
		c.notNull = true
		if !c.HasIndex(KeyPrimary) {
			c.indices = append([]Index{{Kind: KeyPrimary}}, c.indices...)
		}
	}
}

func newColumn(name string, native reflect.Type, opts []Option) *Column {
	c := &Column{
		name:     name,
		native:   native,
		tag:      TypeOf(native),
		position: Unordered,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
