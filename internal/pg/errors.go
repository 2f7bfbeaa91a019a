package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsConnectionError reports whether err came from the connection layer
// rather than from the server executing a statement.
func IsConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
