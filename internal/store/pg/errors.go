package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"gatehouse.dev/internal/auth"
)

const (
	pgErrUniqueViolation    = "23505"
	pgErrTooManyConnections = "53300"
	pgErrAdminShutdown      = "57P01"
	pgClassConnection       = "08"
)

// mapError translates driver errors into the auth error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	code, constraint := sqlState(err)
	switch {
	case code == pgErrUniqueViolation:
		return fmt.Errorf("%w: %s", auth.ErrConflict, conflictMessage(constraint))
	case code == pgErrTooManyConnections, code == pgErrAdminShutdown, strings.HasPrefix(code, pgClassConnection):
		return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", auth.ErrStoreUnavailable, err)
	}
	return err
}

// sqlState extracts the SQLSTATE and constraint name from either driver.
func sqlState(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint
	}
	return "", ""
}

func conflictMessage(constraint string) string {
	switch constraint {
	case "users_email_key":
		return "email already registered"
	case "users_username_key":
		return "username already taken"
	case "":
		return "duplicate value"
	default:
		return "duplicate value for " + constraint
	}
}
