package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
)

type MemoryStorage struct {
	balances map[string]balance.Storage
	accounts map[string]domain.Account
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		balances: make(map[string]balance.Storage),
		accounts: make(map[string]domain.Account),
	}
}

// -----------------------------------------------------------------------------
// Balance Repository
// -----------------------------------------------------------------------------

type BalanceRepo struct {
	store *MemoryStorage
}

func NewBalanceRepo(store *MemoryStorage) *BalanceRepo {
	return &BalanceRepo{store: store}
}

func (r *BalanceRepo) Save(ctx context.Context, balances []balance.Storage) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, b := range balances {
		r.store.balances[b.ID()] = b
	}
	return nil
}

func (r *BalanceRepo) LoadAll(ctx context.Context) ([]balance.Storage, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ids := make([]string, 0, len(r.store.balances))
	for id := range r.store.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]balance.Storage, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.store.balances[id])
	}
	return out, nil
}

func (r *BalanceRepo) Delete(ctx context.Context, ids []string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, id := range ids {
		delete(r.store.balances, id)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Account Repository
// -----------------------------------------------------------------------------

type AccountRepo struct {
	store *MemoryStorage
}

func NewAccountRepo(store *MemoryStorage) *AccountRepo {
	return &AccountRepo{store: store}
}

func (r *AccountRepo) Save(ctx context.Context, account domain.Account) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.accounts[account.Address] = account
	return nil
}

func (r *AccountRepo) GetByAddress(ctx context.Context, address string) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	a, ok := r.store.accounts[address]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (r *AccountRepo) GetAll(ctx context.Context) ([]domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]domain.Account, 0, len(r.store.accounts))
	for _, a := range r.store.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}
