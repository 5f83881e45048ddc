package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

// AccountRepo implements storage.AccountRepository using PostgreSQL.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new PostgreSQL account repository.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

type accountRow struct {
	Address  string `db:"address"`
	Hardware bool   `db:"hardware"`
}

// Save saves an account to the database.
func (r *AccountRepo) Save(ctx context.Context, account domain.Account) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO accounts (address, hardware) VALUES (:address, :hardware)
		ON CONFLICT (address) DO UPDATE SET hardware = EXCLUDED.hardware, updated_at = NOW()`,
		accountRow{Address: account.Address, Hardware: account.Hardware})
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// GetByAddress retrieves an account by address.
func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.Account, error) {
	var row accountRow
	err := r.db.GetContext(ctx, &row, `SELECT address, hardware FROM accounts WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &domain.Account{Address: row.Address, Hardware: row.Hardware}, nil
}

// GetAll retrieves all accounts.
func (r *AccountRepo) GetAll(ctx context.Context) ([]domain.Account, error) {
	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT address, hardware FROM accounts ORDER BY address`); err != nil {
		return nil, fmt.Errorf("failed to get all accounts: %w", err)
	}
	out := make([]domain.Account, len(rows))
	for i, row := range rows {
		out[i] = domain.Account{Address: row.Address, Hardware: row.Hardware}
	}
	return out, nil
}
