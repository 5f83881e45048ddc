package storage

import (
	"context"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

// BalanceRepository persists the last live balances so they can be served
// with cache status after a restart.
type BalanceRepository interface {
	// Save upserts balances by id
	Save(ctx context.Context, balances []balance.Storage) error

	// LoadAll returns every stored balance
	LoadAll(ctx context.Context) ([]balance.Storage, error)

	// Delete removes balances by id
	Delete(ctx context.Context, ids []string) error
}

// AccountRepository handles tracked account storage
type AccountRepository interface {
	// Save saves or updates an account
	Save(ctx context.Context, account domain.Account) error

	// GetByAddress retrieves an account, or nil when it is not tracked
	GetByAddress(ctx context.Context, address string) (*domain.Account, error)

	// GetAll retrieves all tracked accounts
	GetAll(ctx context.Context) ([]domain.Account, error)
}
