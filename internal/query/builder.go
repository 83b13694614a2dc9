package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/schema"
)

// Statement is rendered SQL plus the arguments captured while building it.
type Statement struct {
	SQL  string
	Args []any

	// Returning names the column an INSERT ... RETURNING yields.
	Returning string
}

func (s Statement) String() string { return s.SQL }

// --- DDL ---

// CreateTable renders CREATE TABLE with every column, followed by the
// table-level constraints of each column's indices in column order.
func (d Dialect) CreateTable(table string, columns []*schema.Column, keys *schema.KeyRegistry) (Statement, error) {
	if len(columns) == 0 {
		return Statement{}, errs.New(errs.ErrKindInvalidInput, "CREATE TABLE without columns").In(table)
	}

	defs := make([]string, 0, len(columns))
	var constraints []string
	for _, col := range columns {
		frag, err := d.columnDef(col, keys)
		if err != nil {
			return Statement{}, errs.WithTable(err, table)
		}
		defs = append(defs, frag)

		for _, ix := range col.Indices() {
			key, _ := keys.Lookup(ix.Kind)
			if tc := key.TableConstraint(col, ix.Args, d.QuoteIdent); tc != "" {
				constraints = append(constraints, tc)
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(d.QuoteIdent(table))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(append(defs, constraints...), ", "))
	sb.WriteString(");")
	return Statement{SQL: sb.String()}, nil
}

// columnDef renders: name TYPE [NOT NULL] [DEFAULT v] [column constraints].
func (d Dialect) columnDef(col *schema.Column, keys *schema.KeyRegistry) (string, error) {
	typ, err := d.Types.Fragment(col.Type(), col.Length())
	if err != nil {
		return "", errs.WithColumn(err, col.Name())
	}

	parts := []string{d.QuoteIdent(col.Name()), typ}
	if col.NotNull() {
		parts = append(parts, "NOT NULL")
	}
	if def, ok := col.Default(); ok {
		parts = append(parts, "DEFAULT "+def)
	}
	for _, ix := range col.Indices() {
		key, ok := keys.Lookup(ix.Kind)
		if !ok {
			return "", errs.Newf(errs.ErrKindRegistration, "no key registered for kind %q", ix.Kind).On(col.Name())
		}
		if cc := key.ColumnConstraint(col, ix.Args, d.QuoteIdent); cc != "" {
			parts = append(parts, cc)
		}
	}
	return strings.Join(parts, " "), nil
}

// AddColumns renders ALTER TABLE ... ADD COLUMN for columns. Dialects
// without MultiColumnAlter get one statement per column.
func (d Dialect) AddColumns(table string, columns []*schema.Column, keys *schema.KeyRegistry) ([]Statement, error) {
	clauses := make([]string, 0, len(columns))
	for _, col := range columns {
		frag, err := d.columnDef(col, keys)
		if err != nil {
			return nil, errs.WithTable(err, table)
		}
		clauses = append(clauses, "ADD COLUMN "+frag)
	}
	return d.alter(table, clauses), nil
}

// DropColumns renders ALTER TABLE ... DROP COLUMN for names.
func (d Dialect) DropColumns(table string, names []string) []Statement {
	clauses := make([]string, 0, len(names))
	for _, name := range names {
		clauses = append(clauses, "DROP COLUMN "+d.QuoteIdent(name))
	}
	return d.alter(table, clauses)
}

func (d Dialect) alter(table string, clauses []string) []Statement {
	if len(clauses) == 0 {
		return nil
	}
	prefix := "ALTER TABLE " + d.QuoteIdent(table) + " "
	if d.MultiColumnAlter {
		return []Statement{{SQL: prefix + strings.Join(clauses, ", ") + ";"}}
	}
	out := make([]Statement, len(clauses))
	for i, c := range clauses {
		out[i] = Statement{SQL: prefix + c + ";"}
	}
	return out
}

// --- DML ---

// Insert renders INSERT for the data columns; the id is assigned by the
// engine and never inserted explicitly.
func (d Dialect) Insert(table, id string, data []string) Statement {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(d.QuoteIdent(table))
	if len(data) == 0 {
		sb.WriteString(d.emptyInsert())
	} else {
		marks := make([]string, len(data))
		for i := range data {
			marks[i] = d.Placeholder(i + 1)
		}
		sb.WriteString(" (")
		sb.WriteString(d.joinIdents(data))
		sb.WriteString(") VALUES (")
		sb.WriteString(strings.Join(marks, ", "))
		sb.WriteString(")")
	}

	st := Statement{}
	if d.Returning {
		sb.WriteString(" RETURNING ")
		sb.WriteString(d.QuoteIdent(id))
		st.Returning = id
	}
	st.SQL = sb.String()
	return st
}

func (d Dialect) emptyInsert() string {
	if d.EmptyInsert == "" {
		return " DEFAULT VALUES"
	}
	return d.EmptyInsert
}

// Update renders UPDATE ... SET data=? WHERE id=?. The id is bound last.
// Without data columns the SET assigns the id to itself, so the statement
// still reports whether the row exists.
func (d Dialect) Update(table, id string, data []string) Statement {
	sets := make([]string, len(data))
	for i, c := range data {
		sets[i] = d.QuoteIdent(c) + "=" + d.Placeholder(i+1)
	}
	if len(sets) == 0 {
		sets = []string{d.QuoteIdent(id) + "=" + d.QuoteIdent(id)}
	}
	return Statement{SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s=%s",
		d.QuoteIdent(table), strings.Join(sets, ", "), d.QuoteIdent(id), d.Placeholder(len(data)+1))}
}

// Delete renders DELETE ... WHERE id=?.
func (d Dialect) Delete(table, id string) Statement {
	return Statement{SQL: fmt.Sprintf("DELETE FROM %s WHERE %s=%s",
		d.QuoteIdent(table), d.QuoteIdent(id), d.Placeholder(1))}
}

// Exists renders SELECT 1 ... WHERE id=?.
func (d Dialect) Exists(table, id string) Statement {
	return Statement{SQL: fmt.Sprintf("SELECT 1 FROM %s WHERE %s=%s",
		d.QuoteIdent(table), d.QuoteIdent(id), d.Placeholder(1))}
}

func (d Dialect) joinIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

// --- SELECT ---

// Order is one ORDER BY entry.
type Order struct {
	Column string
	Desc   bool
}

// SelectBuilder constructs a SELECT over a fixed column list.
//
//	st, err := query.MySQL().Select("entries", "id", "name").
//	    Where().Equals("name", "a").Done().
//	    OrderBy("id", true).
//	    Limit(10).
//	    Build()
type SelectBuilder struct {
	d       Dialect
	table   string
	columns []string
	where   *Conditions
	order   []Order
	limit   int
	offset  int
	limited bool
}

// Select starts a SELECT of columns from table. WHERE comparisons are
// restricted to those columns.
func (d Dialect) Select(table string, columns ...string) *SelectBuilder {
	return &SelectBuilder{
		d:       d,
		table:   table,
		columns: append([]string(nil), columns...),
		where:   NewConditions(columns...),
	}
}

// Where opens the WHERE chain.
func (b *SelectBuilder) Where() *Where[*SelectBuilder] { return Bind(b.where, b) }

// Conditions exposes the WHERE chain to builders wrapping this one.
func (b *SelectBuilder) Conditions() *Conditions { return b.where }

// OrderBy appends an ORDER BY entry.
func (b *SelectBuilder) OrderBy(column string, desc bool) *SelectBuilder {
	b.order = append(b.order, Order{Column: column, Desc: desc})
	return b
}

// Limit caps the result at n rows.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit, b.offset, b.limited = n, 0, true
	return b
}

// Range skips offset rows and returns at most count.
func (b *SelectBuilder) Range(offset, count int) *SelectBuilder {
	b.limit, b.offset, b.limited = count, offset, true
	return b
}

// Build renders the statement.
func (b *SelectBuilder) Build() (Statement, error) {
	if len(b.columns) == 0 {
		return Statement{}, errs.New(errs.ErrKindInvalidInput, "SELECT without columns").In(b.table)
	}
	if b.limited && (b.limit < 0 || b.offset < 0) {
		return Statement{}, errs.Newf(errs.ErrKindInvalidInput, "invalid range %d,%d", b.offset, b.limit).In(b.table)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(b.d.joinIdents(b.columns))
	sb.WriteString(" FROM ")
	sb.WriteString(b.d.QuoteIdent(b.table))

	// --- WHERE ---
	clause, args, err := b.where.Render(b.d, 1)
	if err != nil {
		return Statement{}, errs.WithTable(err, b.table)
	}
	if clause != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(clause)
	}

	// --- ORDER BY ---
	if len(b.order) > 0 {
		parts := make([]string, len(b.order))
		for i, o := range b.order {
			parts[i] = b.d.QuoteIdent(o.Column)
			if o.Desc {
				parts[i] += " DESC"
			}
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	// --- LIMIT ---
	if b.limited {
		sb.WriteString(" LIMIT ")
		switch {
		case b.offset == 0:
			sb.WriteString(strconv.Itoa(b.limit))
		case b.d.LimitComma:
			sb.WriteString(strconv.Itoa(b.offset) + "," + strconv.Itoa(b.limit))
		default:
			sb.WriteString(strconv.Itoa(b.limit) + " OFFSET " + strconv.Itoa(b.offset))
		}
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}
