package schema

import (
	"strings"
	"sync"
)

// KeyKind tags a constraint strategy. The predefined kinds cover primary,
// unique and foreign keys; any other string is a custom kind.
type KeyKind string

const (
	KeyPrimary KeyKind = "primary"
	KeyUnique  KeyKind = "unique"
	KeyForeign KeyKind = "foreign"
)

// Quoter quotes an identifier for the target engine.
type Quoter func(name string) string

// Key renders the SQL for one constraint kind. Either fragment may be empty.
type Key interface {
	Kind() KeyKind

	// ColumnConstraint is appended to the column definition.
	ColumnConstraint(col *Column, args []string, quote Quoter) string

	// TableConstraint is appended after all column definitions.
	TableConstraint(col *Column, args []string, quote Quoter) string
}

// PrimaryKey renders PRIMARY KEY plus the engine's auto-increment keyword
// for auto-incrementing columns.
type PrimaryKey struct {
	AutoIncrement string // AUTO_INCREMENT, AUTOINCREMENT, ...
}

func (PrimaryKey) Kind() KeyKind { return KeyPrimary }

func (k PrimaryKey) ColumnConstraint(col *Column, _ []string, _ Quoter) string {
	if col.AutoIncrement() && k.AutoIncrement != "" {
		return "PRIMARY KEY " + k.AutoIncrement
	}
	return "PRIMARY KEY"
}

func (PrimaryKey) TableConstraint(*Column, []string, Quoter) string { return "" }

// UniqueKey renders a column-level UNIQUE.
type UniqueKey struct{}

func (UniqueKey) Kind() KeyKind { return KeyUnique }

func (UniqueKey) ColumnConstraint(*Column, []string, Quoter) string { return "UNIQUE" }

func (UniqueKey) TableConstraint(*Column, []string, Quoter) string { return "" }

// ForeignKey renders a table-level FOREIGN KEY clause.
// Args: referenced table, referenced column (default "id"), optional ON DELETE action.
type ForeignKey struct{}

func (ForeignKey) Kind() KeyKind { return KeyForeign }

func (ForeignKey) ColumnConstraint(*Column, []string, Quoter) string { return "" }

func (ForeignKey) TableConstraint(col *Column, args []string, quote Quoter) string {
	if len(args) == 0 {
		return ""
	}
	refColumn := "id"
	if len(args) > 1 && args[1] != "" {
		refColumn = args[1]
	}

	var b strings.Builder
	b.WriteString("FOREIGN KEY (")
	b.WriteString(quote(col.Name()))
	b.WriteString(") REFERENCES ")
	b.WriteString(quote(args[0]))
	b.WriteString(" (")
	b.WriteString(quote(refColumn))
	b.WriteString(")")
	if len(args) > 2 && args[2] != "" {
		b.WriteString(" ON DELETE ")
		b.WriteString(strings.ToUpper(args[2]))
	}
	return b.String()
}

// KeyFunc adapts plain functions into a Key, for custom kinds.
type KeyFunc struct {
	Tag    KeyKind
	Column func(col *Column, args []string, quote Quoter) string
	Table  func(col *Column, args []string, quote Quoter) string
}

func (k KeyFunc) Kind() KeyKind { return k.Tag }

func (k KeyFunc) ColumnConstraint(col *Column, args []string, quote Quoter) string {
	if k.Column == nil {
		return ""
	}
	return k.Column(col, args, quote)
}

func (k KeyFunc) TableConstraint(col *Column, args []string, quote Quoter) string {
	if k.Table == nil {
		return ""
	}
	return k.Table(col, args, quote)
}

// KeyRegistry holds at most one Key per kind. Registering a kind that is
// already present replaces the earlier entry.
// It is safe for concurrent use.
type KeyRegistry struct {
	mu   sync.RWMutex
	keys []Key
}

// NewKeyRegistry registers keys in order.
func NewKeyRegistry(keys ...Key) *KeyRegistry {
	r := &KeyRegistry{}
	for _, k := range keys {
		r.Register(k)
	}
	return r
}

// DefaultKeys returns the MySQL-flavoured defaults; engines override the
// primary key renderer where AUTO_INCREMENT does not exist.
func DefaultKeys() *KeyRegistry {
	return NewKeyRegistry(PrimaryKey{AutoIncrement: "AUTO_INCREMENT"}, UniqueKey{}, ForeignKey{})
}

// Register adds k, replacing any key of the same kind.
func (r *KeyRegistry) Register(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.keys {
		if existing.Kind() == k.Kind() {
			r.keys[i] = k
			return
		}
	}
	r.keys = append(r.keys, k)
}

// Lookup returns the key registered for kind.
func (r *KeyRegistry) Lookup(kind KeyKind) (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, k := range r.keys {
		if k.Kind() == kind {
			return k, true
		}
	}
	return nil, false
}

// Kinds lists the registered kinds in registration order.
func (r *KeyRegistry) Kinds() []KeyKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]KeyKind, len(r.keys))
	for i, k := range r.keys {
		kinds[i] = k.Kind()
	}
	return kinds
}

// Clone returns an independent copy.
func (r *KeyRegistry) Clone() *KeyRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return &KeyRegistry{keys: append([]Key(nil), r.keys...)}
}
