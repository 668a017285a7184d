package repository

import (
	"context"
	"errors"
	"fmt"
	"net"

	"tablepos/internal/apierror"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL SQLSTATE codes the stores classify.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNumericOverflow     = "22003"
	pgStringTooLong       = "22001"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
)

// translateError maps driver errors onto the apierror taxonomy so that SQL
// text never travels past the repository. conflictMsg is the user-facing
// message for a unique violation; empty means a generic one.
func translateError(err error, conflictMsg string) error {
	if err == nil {
		return nil
	}

	var appErr *apierror.Error
	if errors.As(err, &appErr) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if conflictMsg == "" {
				conflictMsg = "record already exists"
			}
			return apierror.Conflict(conflictMsg)
		case pgForeignKeyViolation:
			return apierror.NotFound("referenced record does not exist")
		case pgCheckViolation:
			return apierror.Validation("value violates a store constraint", constraintField(pgErr, "check"))
		case pgNumericOverflow:
			return apierror.Validation("amount out of range", constraintField(pgErr, "max"))
		case pgStringTooLong:
			return apierror.Validation("value too long", constraintField(pgErr, "max"))
		case pgSerializationFail, pgDeadlockDetected:
			return apierror.Transient("concurrent update, retry the request", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierror.Transient("store operation timed out", err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apierror.Transient("store temporarily unavailable", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apierror.Transient("store temporarily unavailable", err)
	}

	return fmt.Errorf("store: %w", err)
}

// constraintField names the offending column or constraint when the driver
// reports one. Tables and SQL text stay out of the message.
func constraintField(pgErr *pgconn.PgError, tag string) map[string]string {
	switch {
	case pgErr.ColumnName != "":
		return map[string]string{pgErr.ColumnName: tag}
	case pgErr.ConstraintName != "":
		return map[string]string{pgErr.ConstraintName: tag}
	}
	return nil
}

// absent reports a missing row; lookups return (nil, nil) for it.
func absent(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
