package core

import (
	"context"

	"venue-matching-service/internal/port"
)

// withTx runs fn inside one ledger transaction, rolling back on any error.
func withTx(ctx context.Context, ledger port.Ledger, fn func(port.LedgerTx) error) error {
	tx, err := ledger.BeginTx(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}
