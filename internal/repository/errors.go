package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"catalog-rag/internal/retrieval"
)

// wrapStoreErr tags connection-level failures with retrieval.ErrStoreUnavailable
// so the retriever can tell a dead store from a slow or failed query.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isConnectionError(err) {
		return fmt.Errorf("%s failed: %w", op, errors.Join(retrieval.ErrStoreUnavailable, err))
	}
	return fmt.Errorf("%s failed: %w", op, err)
}

func isConnectionError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "sql: database is closed") ||
		strings.Contains(msg, "invalid connection")
}
