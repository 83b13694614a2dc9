package mysql

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/koustreak/rowbind/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDuplicateEntry   = 1062
	errNoReferencedRow  = 1452
	errRowIsReferenced  = 1451
	errNoReferencedRow2 = 1216
	errRowIsReferenced2 = 1217
	errDBAccessDenied   = 1044
	errAccessDenied     = 1045
	errNoDatabase       = 1046
	errUnknownDatabase  = 1049
	errTooManyConns     = 1040
	errUserConnLimit    = 1203
	errLockWaitTimeout  = 1205
	errQueryInterrupted = 1317
	errNoSuchTable      = 1146
	errConnRefused      = 2003
)

// classify maps go-sql-driver/mysql errors to error kinds.
func classify(err error) (errs.ErrKind, string, bool) {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return errs.ErrKindConnectionFailed, "invalid connection", true
	}

	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) {
		return errs.ErrKindUnknown, "", false
	}
	return classifyCode(mysqlErr.Number), mysqlErr.Message, true
}

func classifyCode(code uint16) errs.ErrKind {
	switch code {
	case errDuplicateEntry, errNoReferencedRow, errRowIsReferenced, errNoReferencedRow2, errRowIsReferenced2:
		return errs.ErrKindConflict
	case errDBAccessDenied, errAccessDenied, errNoDatabase, errUnknownDatabase,
		errTooManyConns, errUserConnLimit, errConnRefused:
		return errs.ErrKindConnectionFailed
	case errLockWaitTimeout, errQueryInterrupted:
		return errs.ErrKindTimeout
	case errNoSuchTable:
		return errs.ErrKindNotFound
	default:
		return errs.ErrKindQueryFailed
	}
}
