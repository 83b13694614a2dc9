// Package errs provides the unified error type used across all of rowbind.
//
// Every subsystem (schema compiler, statement builder, prepared statements,
// engine drivers) wraps its native errors into *errs.Error before returning
// them to callers. Callers use the Is* predicates to handle errors without
// importing driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindQueryFailed, "insert failed", mysqlErr)
//
//	// In application code, check the error kind:
//	if errs.IsRegistration(err) {
//	    log.Fatalf("model is not mappable: %v", err)
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind categorises an error without exposing engine-specific codes.
// All engines (MySQL, Postgres, SQLite) map their native errors to one
// of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindRegistration             // model cannot be bound to a table
	ErrKindQueryFailed              // DDL / DML / SELECT execution error
	ErrKindStatementClosed          // prepared statement used after close
	ErrKindUnsupportedType          // value or column type has no SQL mapping
	ErrKindNotFound                 // no rows, unknown table or model
	ErrKindConnectionFailed         // cannot reach or authenticate to the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindConflict                 // unique or foreign key violation
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindRegistration:
		return "registration"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindStatementClosed:
		return "statement_closed"
	case ErrKindUnsupportedType:
		return "unsupported_type"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all rowbind subsystems.
// Table and Column name the schema object involved, when there is one,
// so failures can be diagnosed without re-running with tracing.
type Error struct {
	Kind    ErrKind
	Message string
	Table   string
	Column  string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.Table != "" {
		fmt.Fprintf(&b, " (table=%s", e.Table)
		if e.Column != "" {
			fmt.Fprintf(&b, " column=%s", e.Column)
		}
		b.WriteString(")")
	} else if e.Column != "" {
		fmt.Fprintf(&b, " (column=%s)", e.Column)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// In returns a copy of e annotated with the table name. An existing table
// annotation is kept.
func (e *Error) In(table string) *Error {
	c := *e
	if c.Table == "" {
		c.Table = table
	}
	return &c
}

// On returns a copy of e annotated with the column name.
func (e *Error) On(column string) *Error {
	c := *e
	c.Column = column
	return &c
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithTable annotates err with a table name if it is an *Error, and wraps it
// as ErrKindUnknown otherwise.
func WithTable(err error, table string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.In(table)
	}
	return &Error{Kind: ErrKindUnknown, Message: err.Error(), Table: table, Cause: err}
}

// WithColumn is WithTable for a column name.
func WithColumn(err error, column string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.On(column)
	}
	return &Error{Kind: ErrKindUnknown, Message: err.Error(), Column: column, Cause: err}
}

// --- Predicates ---

// IsRegistration reports whether err aborted a table registration.
func IsRegistration(err error) bool {
	return kindOf(err) == ErrKindRegistration
}

// IsQueryFailed reports whether err is a statement execution failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsStatementClosed reports whether err came from a closed prepared statement.
func IsStatementClosed(err error) bool {
	return kindOf(err) == ErrKindStatementClosed
}

// IsUnsupportedType reports whether err is a missing type mapping.
func IsUnsupportedType(err error) bool {
	return kindOf(err) == ErrKindUnsupportedType
}

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsConflict reports whether err is a constraint violation.
func IsConflict(err error) bool {
	return kindOf(err) == ErrKindConflict
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
