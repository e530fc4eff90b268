package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/siherrmann/newsdedup/helper"
	"github.com/siherrmann/newsdedup/model"
)

// classify wraps err with op and marks connection level failures as model.ErrIndexUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return helper.NewError(op, fmt.Errorf("%w: %w", model.ErrIndexUnavailable, err))
	}
	return helper.NewError(op, err)
}

// isUnavailable reports whether err is a transient failure of the database itself.
// Postgres classes: 08 connection exception, 53 insufficient resources, 57 operator intervention.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
