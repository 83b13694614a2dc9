package sqlite

import (
	"errors"

	"github.com/koustreak/rowbind/internal/errs"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// classify maps modernc.org/sqlite result codes to error kinds.
func classify(err error) (errs.ErrKind, string, bool) {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return errs.ErrKindUnknown, "", false
	}
	return classifyCode(sqliteErr.Code()), sqlite.ErrorCodeString[sqliteErr.Code()], true
}

// classifyCode looks at the primary result code; extended codes carry it
// in the low byte.
func classifyCode(code int) errs.ErrKind {
	switch code & 0xff {
	case sqlite3.SQLITE_CONSTRAINT:
		return errs.ErrKindConflict
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_INTERRUPT:
		return errs.ErrKindTimeout
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_PERM, sqlite3.SQLITE_AUTH:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
