package sqlmirror

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"

	"crm-approvals/internal/platform"

	"github.com/go-sql-driver/mysql"
)

// MySQL/TiDB error codes the mirror maps to platform errors.
// See: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	mysqlErrAccessDenied      = 1045 // Access denied for user
	mysqlErrDBAccessDenied    = 1044 // Access denied for user to database
	mysqlErrTableAccessDenied = 1142 // command denied to user for table
	mysqlErrUnknownColumn     = 1054 // Unknown column in field list
	mysqlErrNoSuchTable       = 1146 // Table doesn't exist
	mysqlErrTooManyConns      = 1040 // Too many connections
	mysqlErrLockWaitTimeout   = 1205 // Lock wait timeout exceeded
	mysqlErrDeadlock          = 1213 // Deadlock found when trying to get lock
)

// mapError translates driver errors to the platform error vocabulary.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		apiErr := &platform.APIError{
			StatusCode: http.StatusBadRequest,
			Code:       fmt.Sprintf("MYSQL_%d", mysqlErr.Number),
			Message:    mysqlErr.Message,
		}
		switch mysqlErr.Number {
		case mysqlErrNoSuchTable:
			return fmt.Errorf("%w: %w", platform.ErrObjectNotFound, apiErr)
		case mysqlErrUnknownColumn:
			apiErr.Code = "INVALID_FIELD"
			return apiErr
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied, mysqlErrTableAccessDenied:
			apiErr.StatusCode = http.StatusUnauthorized
			return fmt.Errorf("%w: %w", platform.ErrUnavailable, apiErr)
		case mysqlErrTooManyConns:
			apiErr.StatusCode = http.StatusServiceUnavailable
			return apiErr
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			apiErr.StatusCode = http.StatusServiceUnavailable
			apiErr.Code = "UNABLE_TO_LOCK_ROW"
			return apiErr
		}
		return apiErr
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", platform.ErrUnavailable, err)
	}
	return err
}
