package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"facturo/internal/core/apperror"
)

// SQLSTATE codes that mean the transaction lost a race, not that the
// request was wrong. Callers may retry these.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
)

const sqlstateUniqueViolation = "23505"

// mapContention converts serialization failures, deadlocks and lock
// timeouts into retryable Contention errors. AppErrors produced inside the
// transaction pass through untouched.
func mapContention(err error) error {
	if err == nil {
		return nil
	}
	if apperror.IsAppError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected, sqlstateLockNotAvailable:
		return apperror.NewContention(err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != sqlstateUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
