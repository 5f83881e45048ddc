package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/infra/storage"
)

// Persister buffers balance writes and flushes them to a repository.
// Writes to the same balance between flushes collapse into the last one.
type Persister struct {
	repo     storage.BalanceRepository
	interval time.Duration
	log      *slog.Logger

	mu      sync.Mutex
	saves   map[string]balance.Storage
	deletes map[string]struct{}
}

// NewPersister creates a persister flushing every interval once Run starts.
func NewPersister(repo storage.BalanceRepository, interval time.Duration) *Persister {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Persister{
		repo:     repo,
		interval: interval,
		log:      slog.Default().With("component", "persister"),
		saves:    make(map[string]balance.Storage),
		deletes:  make(map[string]struct{}),
	}
}

// Save queues balances for upsert.
func (p *Persister) Save(items []balance.Storage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range items {
		id := s.ID()
		delete(p.deletes, id)
		p.saves[id] = s
	}
}

// Delete queues balances for removal.
func (p *Persister) Delete(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		delete(p.saves, id)
		p.deletes[id] = struct{}{}
	}
}

// Pending returns the number of queued writes.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saves) + len(p.deletes)
}

// Flush writes everything queued. Writes that fail are queued again unless
// a newer write for the same balance arrived meanwhile.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	saves, deletes := p.saves, p.deletes
	p.saves = make(map[string]balance.Storage)
	p.deletes = make(map[string]struct{})
	p.mu.Unlock()

	if len(saves) == 0 && len(deletes) == 0 {
		return nil
	}

	items := make([]balance.Storage, 0, len(saves))
	for _, s := range saves {
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID() < items[j].ID() })
	ids := make([]string, 0, len(deletes))
	for id := range deletes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(items) > 0 {
		if err := p.repo.Save(ctx, items); err != nil {
			p.requeue(saves, deletes)
			return fmt.Errorf("save balances: %w", err)
		}
	}
	if len(ids) > 0 {
		if err := p.repo.Delete(ctx, ids); err != nil {
			p.requeue(nil, deletes)
			return fmt.Errorf("delete balances: %w", err)
		}
	}
	p.log.Debug("flushed balances", "saved", len(items), "deleted", len(ids))
	return nil
}

func (p *Persister) requeue(saves map[string]balance.Storage, deletes map[string]struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range saves {
		if _, newer := p.saves[id]; newer {
			continue
		}
		if _, newer := p.deletes[id]; newer {
			continue
		}
		p.saves[id] = s
	}
	for id := range deletes {
		if _, newer := p.saves[id]; newer {
			continue
		}
		p.deletes[id] = struct{}{}
	}
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (p *Persister) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := p.Flush(flushCtx); err != nil {
				p.log.Error("final flush failed", "error", err)
			}
			cancel()
			return
		case <-t.C:
			if err := p.Flush(ctx); err != nil {
				p.log.Warn("flush failed", "error", err, "pending", p.Pending())
			}
		}
	}
}
