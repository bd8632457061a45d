package postgres

import (
	"context"
	"database/sql"
)

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. The repository methods that read rows and then write them
// (MarkFailed, ReleaseStaleLocks) go through this so their statements either
// all commit or leave state unchanged; single-statement methods do not use it.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// WithTxResult is WithTx for functions that also produce a value.
func WithTxResult[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, err
	}

	result, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return zero, err
	}

	if err := tx.Commit(); err != nil {
		return zero, err
	}

	return result, nil
}
