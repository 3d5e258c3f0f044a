package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"consentledger/pkg/platform/sentinel"
)

// SQLSTATE codes the stores react to.
const (
	codeForeignKeyViolation  = "23503"
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// Classify wraps err with the sentinel that describes it, keeping op as context.
// Errors it does not recognise are wrapped unchanged.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrUnknownReference, pgErr.ConstraintName)
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, sentinel.ErrAlreadyExists, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrConflict, err)
		case codeQueryCanceled, codeAdminShutdown, codeCannotConnectNow:
			return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
		}
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%s: %w: %w", op, sentinel.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
