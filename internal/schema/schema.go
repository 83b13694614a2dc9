// Package schema describes how a Go model maps onto a table.
//
// A Definition lists the model's columns with typed accessors; Compile
// validates it (unique names, exactly one integral id, mappable types) and
// orders the columns into an immutable Mapping. Constraint SQL is produced by
// pluggable Key strategies kept in a KeyRegistry.
//
// Usage:
//
//	def := schema.Define("entries",
//	    schema.ID("id", func(e *Entry) *int64 { return &e.ID }),
//	    schema.Col("name", func(e *Entry) *string { return &e.Name }, schema.NotNull(), schema.Length(64)),
//	    schema.Col("amount", func(e *Entry) *int { return &e.Amount }),
//	)
//	mapping, err := def.Compile()
package schema
