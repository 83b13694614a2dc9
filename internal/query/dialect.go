// Package query renders the SQL rowbind sends to an engine.
//
// All builders are pure functions of their inputs: the same table, columns
// and dialect always produce byte-identical SQL. Values are never
// interpolated into the SQL text; they travel as Statement.Args. The only
// exception is the explicit Literal comparator family, which inlines a
// caller-rendered literal.
package query

import (
	"strconv"
	"strings"

	"github.com/koustreak/rowbind/internal/schema"
)

// Dialect describes how one engine spells SQL and which schema changes it
// can perform.
type Dialect struct {
	Name string

	// Quote wraps an identifier. Nil leaves identifiers bare.
	Quote func(name string) string

	// Numbered selects $1, $2, … placeholders instead of ?.
	Numbered bool

	Types schema.TypeMap

	// Keys override the default constraint renderers for this engine.
	Keys []schema.Key

	SupportsAddColumns  bool
	SupportsDropColumns bool

	// MultiColumnAlter allows several ADD or DROP clauses in one ALTER TABLE.
	MultiColumnAlter bool

	// Returning appends RETURNING <id> to INSERT so the new id comes back as
	// a row instead of through a last-insert-id call.
	Returning bool

	// LimitComma renders LIMIT offset,count; otherwise LIMIT count OFFSET offset.
	LimitComma bool

	// EmptyInsert follows the table name in an INSERT without data columns.
	// Empty means " DEFAULT VALUES".
	EmptyInsert string
}

// QuoteIdent quotes name for the dialect.
func (d Dialect) QuoteIdent(name string) string {
	if d.Quote == nil {
		return name
	}
	return d.Quote(name)
}

// Placeholder returns the i-th (1-based) parameter marker.
func (d Dialect) Placeholder(i int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// WithTypes returns a copy of d using types as its type map.
func (d Dialect) WithTypes(types schema.TypeMap) Dialect {
	d.Types = types
	return d
}

// --- Quoting ---

// DoubleQuote quotes an identifier the ANSI way, doubling embedded quotes.
func DoubleQuote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Backtick quotes an identifier the MySQL way.
func Backtick(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// --- Built-in dialects ---

// Generic is the engine-neutral dialect: bare identifiers, ? placeholders,
// the default type map and every schema change allowed.
func Generic() Dialect {
	return Dialect{
		Name:                "generic",
		Types:               schema.DefaultTypes(),
		SupportsAddColumns:  true,
		SupportsDropColumns: true,
		MultiColumnAlter:    true,
		LimitComma:          true,
	}
}

// MySQL targets MySQL 8 and MariaDB.
func MySQL() Dialect {
	return Dialect{
		Name:  "mysql",
		Quote: Backtick,
		Types: schema.TypeMap{
			schema.TypeBool:   {Base: "BOOLEAN"},
			schema.TypeInt:    {Base: "INT"},
			schema.TypeLong:   {Base: "BIGINT"},
			schema.TypeFloat:  {Base: "FLOAT"},
			schema.TypeDouble: {Base: "DOUBLE", Sized: "DECIMAL"},
			schema.TypeString: {Base: "TEXT", Sized: "VARCHAR"},
			schema.TypeBytes:  {Base: "BLOB", Sized: "VARBINARY"},
			schema.TypeTime:   {Base: "DATETIME"},
			schema.TypeBlob:   {Base: "LONGBLOB"},
		},
		SupportsAddColumns:  true,
		SupportsDropColumns: true,
		MultiColumnAlter:    true,
		EmptyInsert:         " () VALUES ()",
		LimitComma:          true,
	}
}

// Postgres targets PostgreSQL 12 and later. Ids are identity columns and
// come back through RETURNING.
func Postgres() Dialect {
	return Dialect{
		Name:     "postgres",
		Quote:    DoubleQuote,
		Numbered: true,
		Types: schema.TypeMap{
			schema.TypeBool:   {Base: "BOOLEAN"},
			schema.TypeInt:    {Base: "INTEGER"},
			schema.TypeLong:   {Base: "BIGINT"},
			schema.TypeFloat:  {Base: "REAL"},
			schema.TypeDouble: {Base: "DOUBLE PRECISION", Sized: "NUMERIC"},
			schema.TypeString: {Base: "TEXT", Sized: "VARCHAR"},
			schema.TypeBytes:  {Base: "BYTEA"},
			schema.TypeTime:   {Base: "TIMESTAMPTZ"},
			schema.TypeBlob:   {Base: "BYTEA"},
		},
		Keys: []schema.Key{
			schema.PrimaryKey{AutoIncrement: "GENERATED BY DEFAULT AS IDENTITY"},
		},
		SupportsAddColumns:  true,
		SupportsDropColumns: true,
		MultiColumnAlter:    true,
		Returning:           true,
	}
}

// SQLite targets SQLite 3.35 and later, the first release with DROP COLUMN.
// Every integer is INTEGER, which is 64 bits wide in SQLite and required
// for AUTOINCREMENT.
func SQLite() Dialect {
	return Dialect{
		Name:  "sqlite",
		Quote: DoubleQuote,
		Types: schema.TypeMap{
			schema.TypeBool:   {Base: "BOOLEAN"},
			schema.TypeInt:    {Base: "INTEGER"},
			schema.TypeLong:   {Base: "INTEGER"},
			schema.TypeFloat:  {Base: "REAL"},
			schema.TypeDouble: {Base: "REAL", Sized: "NUMERIC"},
			schema.TypeString: {Base: "TEXT", Sized: "VARCHAR"},
			schema.TypeBytes:  {Base: "BLOB"},
			schema.TypeTime:   {Base: "DATETIME"},
			schema.TypeBlob:   {Base: "BLOB"},
		},
		Keys: []schema.Key{
			schema.PrimaryKey{AutoIncrement: "AUTOINCREMENT"},
		},
		SupportsAddColumns:  true,
		SupportsDropColumns: true,
		LimitComma:          true,
	}
}
