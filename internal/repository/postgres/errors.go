package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lalith-99/echoroom/internal/apperr"
)

// uniqueViolation is the SQLSTATE Postgres raises for a duplicate key.
const uniqueViolation = "23505"

// wrapErr annotates a pgx error with the operation and maps it onto the
// apperr taxonomy: duplicate keys become ErrConflict, everything else is
// treated as the store being unavailable.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, apperr.ErrConflict)
	}
	return fmt.Errorf("%s: %v: %w", op, err, apperr.ErrUnavailable)
}
