package schema

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/koustreak/rowbind/internal/errs"
)

// TypeTag is the engine-neutral SQL type of a column.
type TypeTag int

const (
	TypeUnsupported TypeTag = iota
	TypeBool
	TypeInt  // 32-bit and narrower integers
	TypeLong // 64-bit integers
	TypeFloat
	TypeDouble
	TypeString
	TypeBytes
	TypeTime
	TypeBlob // serialized via encoding.BinaryMarshaler
)

func (t TypeTag) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeTime:
		return "time"
	case TypeBlob:
		return "blob"
	default:
		return "unsupported"
	}
}

// Integral reports whether the tag holds whole numbers.
func (t TypeTag) Integral() bool {
	return t == TypeInt || t == TypeLong
}

var (
	timeType        = reflect.TypeFor[time.Time]()
	marshalerType   = reflect.TypeFor[encoding.BinaryMarshaler]()
	unmarshalerType = reflect.TypeFor[encoding.BinaryUnmarshaler]()
)

// TypeOf maps a Go type to its TypeTag. Primitive kinds win over the
// serializable capability, so a named string type stays a TypeString.
func TypeOf(t reflect.Type) TypeTag {
	if t == nil {
		return TypeUnsupported
	}
	if t == timeType {
		return TypeTime
	}

	switch t.Kind() {
	case reflect.Bool:
		return TypeBool
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return TypeInt
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return TypeLong
	case reflect.Float32:
		return TypeFloat
	case reflect.Float64:
		return TypeDouble
	case reflect.String:
		return TypeString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeBytes
		}
	}

	if Serializable(t) {
		return TypeBlob
	}
	return TypeUnsupported
}

// Serializable reports whether values of t can round-trip through bytes:
// t (or *t) marshals and *t unmarshals.
func Serializable(t reflect.Type) bool {
	if t == nil {
		return false
	}
	ptr := reflect.PointerTo(t)
	marshals := t.Implements(marshalerType) || ptr.Implements(marshalerType)
	return marshals && ptr.Implements(unmarshalerType)
}

// SQLType is one entry of a TypeMap. Sized, when set, replaces Base once
// length parameters are present (TEXT becomes VARCHAR(n)).
type SQLType struct {
	Base  string
	Sized string
}

// TypeMap maps type tags to an engine's column types.
type TypeMap map[TypeTag]SQLType

// DefaultTypes is the generic ANSI-flavoured mapping. Long stays BIGINT;
// engines that narrow it must say so in their own map.
func DefaultTypes() TypeMap {
	return TypeMap{
		TypeBool:   {Base: "BOOLEAN"},
		TypeInt:    {Base: "INTEGER"},
		TypeLong:   {Base: "BIGINT"},
		TypeFloat:  {Base: "REAL"},
		TypeDouble: {Base: "DOUBLE PRECISION", Sized: "DECIMAL"},
		TypeString: {Base: "TEXT", Sized: "VARCHAR"},
		TypeBytes:  {Base: "BLOB", Sized: "VARBINARY"},
		TypeTime:   {Base: "TIMESTAMP"},
		TypeBlob:   {Base: "BLOB"},
	}
}

// With returns a copy of m with tag remapped.
func (m TypeMap) With(tag TypeTag, typ SQLType) TypeMap {
	out := make(TypeMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[tag] = typ
	return out
}

// Fragment renders the column type for tag with optional length parameters,
// e.g. VARCHAR(64) or DECIMAL(10,2).
func (m TypeMap) Fragment(tag TypeTag, lengths []int) (string, error) {
	typ, ok := m[tag]
	if !ok || typ.Base == "" {
		return "", errs.Newf(errs.ErrKindUnsupportedType, "no SQL type for %s", tag)
	}
	if len(lengths) == 0 {
		return typ.Base, nil
	}

	name := typ.Base
	if typ.Sized != "" {
		name = typ.Sized
	}
	parts := make([]string, len(lengths))
	for i, l := range lengths {
		parts[i] = strconv.Itoa(l)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ",")), nil
}
