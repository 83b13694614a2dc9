package database

import (
	"database/sql/driver"
	"encoding"
	"reflect"

	"github.com/koustreak/rowbind/internal/errs"
	"github.com/koustreak/rowbind/internal/schema"
)

// bindValue converts v into a driver.Value.
//
// With tag TypeUnsupported the type is inferred: anything the standard
// converter accepts is passed through, and serializable values fall back to
// their binary form. An explicit TypeBlob always serializes. Any other
// explicit tag gets no fallback.
func bindValue(v any, tag schema.TypeTag) (driver.Value, error) {
	if tag == schema.TypeBlob {
		return marshal(v)
	}

	dv, err := driver.DefaultParameterConverter.ConvertValue(v)
	if err == nil {
		return dv, nil
	}
	if tag == schema.TypeUnsupported && v != nil && schema.Serializable(derefType(v)) {
		return marshal(v)
	}
	return nil, errs.Wrap(errs.ErrKindUnsupportedType, "cannot bind parameter", err)
}

func marshal(v any) (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		// A value whose pointer implements the marshaler.
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			p := reflect.New(rv.Type())
			p.Elem().Set(rv)
			m, ok = p.Interface().(encoding.BinaryMarshaler)
		}
	}
	if !ok {
		return nil, errs.Newf(errs.ErrKindUnsupportedType, "%T is not serializable", v)
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindUnsupportedType, "serialize parameter", err)
	}
	return b, nil
}

func derefType(v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}
