package transfer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/modules"
)

// PendingTransfer is a built transfer waiting for a signature from an
// external device. It lives in memory only.
type PendingTransfer struct {
	ID        string
	ChainRef  string
	Address   string
	Tx        *modules.UnsignedTx
	Fee       *Fee
	CreatedAt time.Time
}

// PendingStore holds pending transfers. Take hands out each entry once.
type PendingStore struct {
	mu      sync.Mutex
	entries map[string]*PendingTransfer
}

// NewPendingStore creates an empty store.
func NewPendingStore() *PendingStore {
	return &PendingStore{entries: make(map[string]*PendingTransfer)}
}

// Add stores p under a fresh chain-address-timestamp id and returns the id.
func (s *PendingStore) Add(p *PendingTransfer) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := p.CreatedAt.UnixNano()
	id := fmt.Sprintf("%s-%s-%d", p.ChainRef, p.Address, ts)
	for s.entries[id] != nil {
		ts++
		id = fmt.Sprintf("%s-%s-%d", p.ChainRef, p.Address, ts)
	}
	p.ID = id
	s.entries[id] = p
	metrics.PendingTransfers.Set(float64(len(s.entries)))
	return id
}

// Take removes and returns the entry. It returns nil for unknown or
// already taken ids.
func (s *PendingStore) Take(id string) *PendingTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entries[id]
	if p == nil {
		return nil
	}
	delete(s.entries, id)
	metrics.PendingTransfers.Set(float64(len(s.entries)))
	return p
}

// Restore puts a taken entry back under its id. It is a no-op when the id
// is in use again.
func (s *PendingStore) Restore(p *PendingTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[p.ID] != nil {
		return
	}
	s.entries[p.ID] = p
	metrics.PendingTransfers.Set(float64(len(s.entries)))
}

// Get returns the entry without removing it.
func (s *PendingStore) Get(id string) (*PendingTransfer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.entries[id]
	return p, ok
}

// List returns every entry, oldest first.
func (s *PendingStore) List() []*PendingTransfer {
	s.mu.Lock()
	out := make([]*PendingTransfer, 0, len(s.entries))
	for _, p := range s.entries {
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
