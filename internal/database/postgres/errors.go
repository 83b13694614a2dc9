package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/rowbind/internal/errs"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes and classes
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	classIntegrityViolation = "23"
	classConnection         = "08"
	classInvalidAuth        = "28"
	classInsufficientRes    = "53"

	pgErrQueryCanceled   = "57014"
	pgErrAdminShutdown   = "57P01"
	pgErrCannotConnect   = "57P03"
	pgErrLockNotAvail    = "55P03"
	pgErrUndefinedTable  = "42P01"
	pgErrInvalidCatalog  = "3D000"
	pgErrDeadlock        = "40P01"
	pgErrSerialization   = "40001"
	pgErrSyntaxError     = "42601"
	pgErrUndefinedColumn = "42703"
)

// classify maps pgx and lib/pq server errors to error kinds.
func classify(err error) (errs.ErrKind, string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyCode(pgErr.Code), pgErr.Message, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyCode(string(pqErr.Code)), pqErr.Message, true
	}

	if pgconn.SafeToRetry(err) {
		return errs.ErrKindConnectionFailed, "", true
	}
	return errs.ErrKindUnknown, "", false
}

func classifyCode(code string) errs.ErrKind {
	switch code {
	case pgErrQueryCanceled, pgErrLockNotAvail, pgErrDeadlock, pgErrSerialization:
		return errs.ErrKindTimeout
	case pgErrAdminShutdown, pgErrCannotConnect, pgErrInvalidCatalog:
		return errs.ErrKindConnectionFailed
	case pgErrUndefinedTable:
		return errs.ErrKindNotFound
	case pgErrSyntaxError, pgErrUndefinedColumn:
		return errs.ErrKindQueryFailed
	}

	if len(code) < 2 {
		return errs.ErrKindQueryFailed
	}
	switch code[:2] {
	case classIntegrityViolation:
		return errs.ErrKindConflict
	case classConnection, classInvalidAuth, classInsufficientRes:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
