package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/retry"
)

// Tx is the unit of work for one import pass. Every record of a pass is
// written through the same Tx and committed together, so a pass either
// lands whole or not at all.
type Tx struct {
	tx *sql.Tx
	db *DB
}

// BeginPass opens the transaction an import pass runs inside.
func (db *DB) BeginPass(ctx context.Context) (*Tx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, db: db}, nil
}

func (tx *Tx) Commit() error {
	if err := tx.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

// exec runs one write, retrying for as long as another writer holds the
// database. Other errors surface immediately.
func (tx *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := retry.DoIf(ctx, tx.db.busyWait, IsBusy, func() error {
		var err error
		res, err = tx.guarded(ctx, tx.db.Q(query), args...)
		return err
	})
	return res, err
}

// guarded runs one statement. On postgres it is wrapped in a savepoint:
// a failed statement would otherwise abort the enclosing transaction,
// and the passes need to skip bad records and continue.
func (tx *Tx) guarded(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx.db.driver != "postgres" {
		return tx.tx.ExecContext(ctx, query, args...)
	}

	if _, err := tx.tx.ExecContext(ctx, "SAVEPOINT write_guard"); err != nil {
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}
	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		if _, rbErr := tx.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT write_guard"); rbErr != nil {
			return nil, fmt.Errorf("failed to roll back savepoint: %v (after: %w)", rbErr, err)
		}
		return nil, err
	}
	if _, err := tx.tx.ExecContext(ctx, "RELEASE SAVEPOINT write_guard"); err != nil {
		return nil, fmt.Errorf("failed to release savepoint: %w", err)
	}
	return res, nil
}

// queryRow runs a single-row query inside the pass transaction.
func (tx *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(ctx, tx.db.Q(query), args...)
}

// changed reports whether a write touched at least one row. Upserts that
// guard their UPDATE with a difference check use this to tell a real
// write from a no-op.
func changed(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
