package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/koustreak/rowbind/internal/errs"
)

// mapError translates database/sql and engine-native errors into *errs.Error.
func (d *Driver) mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	if d.eng.Classify != nil {
		if kind, detail, ok := d.eng.Classify(err); ok {
			if detail != "" {
				msg = fmt.Sprintf("%s: %s", msg, detail)
			}
			return errs.Wrap(kind, msg, err)
		}
	}

	if connectionLost(err) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}

// connectionLost reports errors after which a prepared handle is useless.
func connectionLost(err error) bool {
	var netErr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.As(err, &netErr) ||
		err.Error() == "sql: statement is closed" ||
		err.Error() == "sql: database is closed"
}
