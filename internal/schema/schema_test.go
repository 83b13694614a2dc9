package schema

import (
	"database/sql"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ X, Y int }

func (p point) MarshalBinary() ([]byte, error) {
	return []byte{byte(p.X), byte(p.Y)}, nil
}

func (p *point) UnmarshalBinary(b []byte) error {
	if len(b) != 2 {
		return errors.New("bad point")
	}
	p.X, p.Y = int(b[0]), int(b[1])
	return nil
}

type entry struct {
	ID     int64
	Name   string
	Amount int
	Note   string
	Where  point
}

func entryDef() *Definition[entry] {
	return Define("entries",
		ID("id", func(e *entry) *int64 { return &e.ID }),
		Col("name", func(e *entry) *string { return &e.Name }, NotNull(), Length(64)),
		Col("amount", func(e *entry) *int { return &e.Amount }),
		Col("note", func(e *entry) *string { return &e.Note }),
		Col("where", func(e *entry) *point { return &e.Where }),
	)
}

func names(cols []*Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name()
	}
	return out
}

func TestTypeOf(t *testing.T) {
	type status string
	tests := []struct {
		typ  reflect.Type
		want TypeTag
	}{
		{reflect.TypeFor[bool](), TypeBool},
		{reflect.TypeFor[int8](), TypeInt},
		{reflect.TypeFor[int32](), TypeInt},
		{reflect.TypeFor[uint16](), TypeInt},
		{reflect.TypeFor[int](), TypeLong},
		{reflect.TypeFor[int64](), TypeLong},
		{reflect.TypeFor[uint64](), TypeLong},
		{reflect.TypeFor[float32](), TypeFloat},
		{reflect.TypeFor[float64](), TypeDouble},
		{reflect.TypeFor[string](), TypeString},
		{reflect.TypeFor[status](), TypeString},
		{reflect.TypeFor[[]byte](), TypeBytes},
		{reflect.TypeFor[time.Time](), TypeTime},
		{reflect.TypeFor[point](), TypeBlob},
		{reflect.TypeFor[struct{ A int }](), TypeUnsupported},
		{reflect.TypeFor[map[string]int](), TypeUnsupported},
		{nil, TypeUnsupported},
	}

	for _, tt := range tests {
		name := "nil"
		if tt.typ != nil {
			name = tt.typ.String()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.typ))
		})
	}
}

func TestTypeMap_Fragment(t *testing.T) {
	types := DefaultTypes()

	tests := []struct {
		tag     TypeTag
		lengths []int
		want    string
	}{
		{TypeString, nil, "TEXT"},
		{TypeString, []int{64}, "VARCHAR(64)"},
		{TypeDouble, []int{10, 2}, "DECIMAL(10,2)"},
		{TypeLong, nil, "BIGINT"},
		{TypeInt, []int{11}, "INTEGER(11)"},
	}
	for _, tt := range tests {
		got, err := types.Fragment(tt.tag, tt.lengths)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := types.Fragment(TypeUnsupported, nil)
	assert.True(t, errs.IsUnsupportedType(err))

	narrowed := types.With(TypeLong, SQLType{Base: "INTEGER"})
	got, err := narrowed.Fragment(TypeLong, nil)
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", got)
	assert.Equal(t, "BIGINT", types[TypeLong].Base, "With must not mutate the source map")
}

func TestCompile_OrdersColumns(t *testing.T) {
	def := Define("ordered",
		Col("c", func(e *entry) *string { return &e.Note }),
		Col("b", func(e *entry) *int { return &e.Amount }, Position(2)),
		ID("id", func(e *entry) *int64 { return &e.ID }, Position(0)),
		Col("a", func(e *entry) *string { return &e.Name }, Position(2)),
		Col("d", func(e *entry) *point { return &e.Where }),
	)

	for i := 0; i < 3; i++ {
		m, err := def.Compile()
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "b", "a", "c", "d"}, names(m.Columns()))
	}
}

func TestCompile_Errors(t *testing.T) {
	type bad struct {
		ID   int64
		Name string
		Meta struct{ A int }
		Key  string
	}

	tests := []struct {
		name string
		def  *Definition[bad]
		kind errs.ErrKind
		msg  string
	}{
		{
			name: "empty table",
			def:  Define("", ID("id", func(b *bad) *int64 { return &b.ID })),
			kind: errs.ErrKindRegistration,
			msg:  "table name is required",
		},
		{
			name: "no columns",
			def:  Define[bad]("bad"),
			kind: errs.ErrKindRegistration,
			msg:  "no columns declared",
		},
		{
			name: "duplicate column",
			def: Define("bad",
				ID("id", func(b *bad) *int64 { return &b.ID }),
				Col("name", func(b *bad) *string { return &b.Name }),
				Col("name", func(b *bad) *string { return &b.Key }),
			),
			kind: errs.ErrKindRegistration,
			msg:  "duplicate column",
		},
		{
			name: "missing id",
			def:  Define("bad", Col("name", func(b *bad) *string { return &b.Name })),
			kind: errs.ErrKindRegistration,
			msg:  "missing primary column",
		},
		{
			name: "two ids",
			def: Define("bad",
				ID("id", func(b *bad) *int64 { return &b.ID }),
				ID("id2", func(b *bad) *int64 { return &b.ID }),
			),
			kind: errs.ErrKindRegistration,
			msg:  "multiple primary columns",
		},
		{
			name: "string id",
			def:  Define("bad", ID("key", func(b *bad) *string { return &b.Key })),
			kind: errs.ErrKindRegistration,
			msg:  "must be integral",
		},
		{
			name: "unsupported type",
			def: Define("bad",
				ID("id", func(b *bad) *int64 { return &b.ID }),
				Col("meta", func(b *bad) *struct{ A int } { return &b.Meta }),
			),
			kind: errs.ErrKindUnsupportedType,
			msg:  "no column type",
		},
		{
			name: "blob override on plain struct",
			def: Define("bad",
				ID("id", func(b *bad) *int64 { return &b.ID }),
				Col("meta", func(b *bad) *struct{ A int } { return &b.Meta }, As(TypeBlob)),
			),
			kind: errs.ErrKindUnsupportedType,
			msg:  "not serializable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.def.Compile()
			require.Error(t, err)
			assert.Nil(t, m)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCompile_IDColumn(t *testing.T) {
	m, err := entryDef().Compile()
	require.NoError(t, err)

	id := m.IDColumn()
	assert.Equal(t, "id", id.Name())
	assert.True(t, id.IsID())
	assert.True(t, id.AutoIncrement())
	assert.True(t, id.NotNull())
	assert.True(t, id.HasIndex(KeyPrimary))
	assert.Equal(t, []string{"name", "amount", "note", "where"}, names(m.DataColumns()))

	name, ok := m.Column("name")
	require.True(t, ok)
	assert.Equal(t, []int{64}, name.Length())
	_, ok = m.Column("missing")
	assert.False(t, ok)
}

func TestMapping_ValuesAndIDs(t *testing.T) {
	m, err := entryDef().Compile()
	require.NoError(t, err)

	e := m.New()
	e.Name, e.Amount, e.Where = "a", 1, point{X: 3, Y: 4}
	m.SetID(e, 42)

	assert.Equal(t, int64(42), e.ID)
	assert.Equal(t, int64(42), m.IDOf(e))
	assert.Equal(t, []any{"a", 1, "", point{X: 3, Y: 4}}, m.Values(e))
	assert.Equal(t, []TypeTag{TypeString, TypeLong, TypeString, TypeBlob}, m.DataTypes())
}

func TestMapping_Dests(t *testing.T) {
	m, err := entryDef().Compile()
	require.NoError(t, err)

	e := m.New()
	dests, finish := m.Dests(e)
	require.Len(t, dests, 5)

	// Simulate what database/sql does with driver values.
	*(dests[0].(*int64)) = 7
	*(dests[1].(*string)) = "a"
	require.NoError(t, dests[2].(sql.Scanner).Scan(int64(5)))
	require.NoError(t, dests[3].(sql.Scanner).Scan(nil))
	require.NoError(t, dests[4].(sql.Scanner).Scan([]byte{1, 2}))
	require.NoError(t, finish())

	assert.Equal(t, entry{ID: 7, Name: "a", Amount: 5, Where: point{X: 1, Y: 2}}, *e)
}

func TestMapping_DestsBlobError(t *testing.T) {
	m, err := entryDef().Compile()
	require.NoError(t, err)

	dests, finish := m.Dests(m.New())
	require.NoError(t, dests[4].(sql.Scanner).Scan([]byte{1}))
	assert.ErrorContains(t, finish(), "bad point")
}

func TestFactory(t *testing.T) {
	def := entryDef().WithFactory(func() *entry { return &entry{Note: "fresh"} })
	m, err := def.Compile()
	require.NoError(t, err)
	assert.Equal(t, "fresh", m.New().Note)
	assert.Same(t, def, m.Definition())
}

func quote(s string) string { return `"` + s + `"` }

func TestKeys(t *testing.T) {
	m, err := Define("posts",
		ID("id", func(e *entry) *int64 { return &e.ID }),
		Col("author", func(e *entry) *int { return &e.Amount }, References("users", "", "cascade")),
		Col("slug", func(e *entry) *string { return &e.Name }, Unique()),
	).Compile()
	require.NoError(t, err)

	id, _ := m.Column("id")
	author, _ := m.Column("author")

	assert.Equal(t, "PRIMARY KEY AUTO_INCREMENT", PrimaryKey{AutoIncrement: "AUTO_INCREMENT"}.ColumnConstraint(id, nil, quote))
	assert.Equal(t, "PRIMARY KEY", PrimaryKey{}.ColumnConstraint(id, nil, quote))
	assert.Equal(t, "UNIQUE", UniqueKey{}.ColumnConstraint(id, nil, quote))

	fk := author.Indices()[0]
	assert.Equal(t, KeyForeign, fk.Kind)
	assert.Equal(t, `FOREIGN KEY ("author") REFERENCES "users" ("id") ON DELETE CASCADE`,
		ForeignKey{}.TableConstraint(author, fk.Args, quote))
	assert.Empty(t, ForeignKey{}.TableConstraint(author, nil, quote))
}

func TestKeyRegistry_LastOfKindWins(t *testing.T) {
	r := DefaultKeys()
	assert.Equal(t, []KeyKind{KeyPrimary, KeyUnique, KeyForeign}, r.Kinds())

	clone := r.Clone()
	r.Register(PrimaryKey{AutoIncrement: "AUTOINCREMENT"})
	r.Register(KeyFunc{
		Tag:    "check",
		Column: func(col *Column, args []string, _ Quoter) string { return "CHECK (" + strings.Join(args, " ") + ")" },
	})

	assert.Equal(t, []KeyKind{KeyPrimary, KeyUnique, KeyForeign, "check"}, r.Kinds())
	k, ok := r.Lookup(KeyPrimary)
	require.True(t, ok)
	assert.Equal(t, PrimaryKey{AutoIncrement: "AUTOINCREMENT"}, k)

	k, _ = clone.Lookup(KeyPrimary)
	assert.Equal(t, PrimaryKey{AutoIncrement: "AUTO_INCREMENT"}, k, "clone is independent")

	check, ok := r.Lookup("check")
	require.True(t, ok)
	assert.Equal(t, "CHECK (amount > 0)", check.ColumnConstraint(nil, []string{"amount", ">", "0"}, quote))
	assert.Empty(t, check.TableConstraint(nil, nil, quote))

	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}
