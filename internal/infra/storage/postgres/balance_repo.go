package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/chainwallet/internal/core/balance"
)

// BalanceRepo implements storage.BalanceRepository using PostgreSQL.
type BalanceRepo struct {
	db *DB
}

// NewBalanceRepo creates a new PostgreSQL balance repository.
func NewBalanceRepo(db *DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

type balanceRow struct {
	ID string `db:"id"`
	balance.Storage
}

const upsertBalance = `
INSERT INTO balances (id, source, status, address, chain_id, evm_network_id, token_id,
                      free, reserved, frozen, misc_frozen, fee_frozen, updated_at)
VALUES (:id, :source, :status, :address, :chain_id, :evm_network_id, :token_id,
        :free, :reserved, :frozen, :misc_frozen, :fee_frozen, NOW())
ON CONFLICT (id) DO UPDATE SET
    status = EXCLUDED.status,
    free = EXCLUDED.free,
    reserved = EXCLUDED.reserved,
    frozen = EXCLUDED.frozen,
    misc_frozen = EXCLUDED.misc_frozen,
    fee_frozen = EXCLUDED.fee_frozen,
    updated_at = NOW()`

// Save upserts balances in one transaction.
func (r *BalanceRepo) Save(ctx context.Context, balances []balance.Storage) error {
	if len(balances) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, upsertBalance)
	if err != nil {
		return fmt.Errorf("failed to prepare balance upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range balances {
		if _, err := stmt.ExecContext(ctx, balanceRow{ID: b.ID(), Storage: b}); err != nil {
			return fmt.Errorf("failed to save balance %s: %w", b.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// LoadAll returns every stored balance.
func (r *BalanceRepo) LoadAll(ctx context.Context) ([]balance.Storage, error) {
	var rows []balanceRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, source, status, address, chain_id, evm_network_id, token_id,
		       free, reserved, frozen, misc_frozen, fee_frozen
		FROM balances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	out := make([]balance.Storage, len(rows))
	for i, row := range rows {
		out[i] = row.Storage
	}
	return out, nil
}

// Delete removes balances by id.
func (r *BalanceRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM balances WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete balances: %w", err)
	}
	return nil
}
