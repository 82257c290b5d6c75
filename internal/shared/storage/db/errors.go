package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"esign-backend/internal/shared/apperror"
)

// IsUniqueViolation reports whether err is a unique-constraint violation
// (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// MapError converts engine errors into the store taxonomy without leaking
// driver strings. Integrity violations (SQLSTATE class 23) become
// StoreConflict; connectivity failures become StoreUnavailable.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return apperror.Wrap(apperror.KindCancelled, "operation cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Wrap(apperror.KindStoreUnavailable, "store timed out", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.Wrap(apperror.KindNotFound, "not found", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) == 5 && pgErr.Code[:2] == "23" {
			return apperror.Wrap(apperror.KindStoreConflict, "store conflict", err)
		}
		if pgErr.Code == "57014" || pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" {
			return apperror.Wrap(apperror.KindStoreUnavailable, "store unavailable", err)
		}
		return apperror.Wrap(apperror.KindInternal, "store failure", err)
	}
	if pgconn.Timeout(err) {
		return apperror.Wrap(apperror.KindStoreUnavailable, "store unavailable", err)
	}
	return apperror.Wrap(apperror.KindInternal, "store failure", err)
}
