package query

import (
	"strings"

	"github.com/koustreak/rowbind/internal/errs"
)

// Op is a WHERE comparison operator.
type Op string

const (
	OpEquals    Op = "="
	OpNotEquals Op = "!="
	OpLess      Op = "<"
	OpGreater   Op = ">"
	OpLike      Op = "LIKE"
)

// validOps is the allowlist of operators. The operator position cannot be
// parameterized, so anything else is rejected.
var validOps = map[Op]bool{
	OpEquals:    true,
	OpNotEquals: true,
	OpLess:      true,
	OpGreater:   true,
	OpLike:      true,
}

// Connector joins two comparators.
type Connector string

const (
	And Connector = "AND"
	Or  Connector = "OR"
)

type comparator struct {
	conn    Connector
	column  string
	op      Op
	value   any
	literal string
	inline  bool
}

// Conditions is an ordered chain of comparators.
//
// The chain is evaluated left to right exactly as declared; there is no
// grouping, so a=1 OR b=2 AND c=3 keeps the engine's own precedence. A
// connector with nothing after it is dropped, and two comparators with no
// connector between them are joined with AND.
type Conditions struct {
	columns map[string]bool
	items   []comparator
	pending Connector
	err     error
}

// NewConditions starts an empty chain. When columns is non-empty, only
// those names may be compared.
func NewConditions(columns ...string) *Conditions {
	c := &Conditions{}
	if len(columns) > 0 {
		c.columns = make(map[string]bool, len(columns))
		for _, name := range columns {
			c.columns[name] = true
		}
	}
	return c
}

// Len returns the number of comparators.
func (c *Conditions) Len() int { return len(c.items) }

func (c *Conditions) connect(conn Connector) {
	c.pending = conn
}

func (c *Conditions) add(cmp comparator) {
	if c.err != nil {
		return
	}
	if !validOps[cmp.op] {
		c.err = errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", cmp.op)
		return
	}
	if c.columns != nil && !c.columns[cmp.column] {
		c.err = errs.Newf(errs.ErrKindInvalidInput, "unknown column in WHERE: %q", cmp.column)
		return
	}
	if len(c.items) > 0 {
		cmp.conn = c.pending
		if cmp.conn == "" {
			cmp.conn = And
		}
	}
	c.pending = ""
	c.items = append(c.items, cmp)
}

// Render returns the clause without the WHERE keyword, numbering
// placeholders from next. An empty chain renders as "".
func (c *Conditions) Render(d Dialect, next int) (string, []any, error) {
	if c.err != nil {
		return "", nil, c.err
	}

	var (
		b    strings.Builder
		args []any
	)
	for i, cmp := range c.items {
		if i > 0 {
			b.WriteByte(' ')
			b.WriteString(string(cmp.conn))
			b.WriteByte(' ')
		}
		b.WriteString(d.QuoteIdent(cmp.column))
		if cmp.op == OpLike {
			b.WriteString(" LIKE ")
		} else {
			b.WriteString(string(cmp.op))
		}
		if cmp.inline {
			b.WriteString(cmp.literal)
			continue
		}
		b.WriteString(d.Placeholder(next))
		args = append(args, cmp.value)
		next++
	}
	return b.String(), args, nil
}

// Where is the fluent surface over a Conditions chain. Done returns to the
// builder that owns the chain.
//
//	q.Where().Equals("name", "a").And().Greater("amount", 0).Done()
type Where[P any] struct {
	c      *Conditions
	parent P
}

// Bind attaches a fluent Where to c, returning parent from Done.
func Bind[P any](c *Conditions, parent P) *Where[P] {
	return &Where[P]{c: c, parent: parent}
}

func (w *Where[P]) compare(column string, op Op, v any) *Where[P] {
	w.c.add(comparator{column: column, op: op, value: v})
	return w
}

func (w *Where[P]) Equals(column string, v any) *Where[P]    { return w.compare(column, OpEquals, v) }
func (w *Where[P]) NotEquals(column string, v any) *Where[P] { return w.compare(column, OpNotEquals, v) }
func (w *Where[P]) Less(column string, v any) *Where[P]      { return w.compare(column, OpLess, v) }
func (w *Where[P]) Greater(column string, v any) *Where[P]   { return w.compare(column, OpGreater, v) }
func (w *Where[P]) Like(column string, pattern string) *Where[P] {
	return w.compare(column, OpLike, pattern)
}

// Literal compares column against literal, rendered verbatim. The caller
// is responsible for quoting; prefer the placeholder comparators.
func (w *Where[P]) Literal(column string, op Op, literal string) *Where[P] {
	w.c.add(comparator{column: column, op: op, literal: literal, inline: true})
	return w
}

func (w *Where[P]) And() *Where[P] {
	w.c.connect(And)
	return w
}

func (w *Where[P]) Or() *Where[P] {
	w.c.connect(Or)
	return w
}

// Done returns the owning builder.
func (w *Where[P]) Done() P { return w.parent }
