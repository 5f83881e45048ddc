package domain

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable view of the chain, network and token directories.
type Snapshot struct {
	Chains      map[ChainID]Chain
	EvmNetworks map[EvmNetworkID]EvmNetwork
	Tokens      map[TokenID]Token
}

// Directory serves point lookups and enumeration over the current snapshot.
// Changes arrive as whole snapshot replacements.
type Directory struct {
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners map[int]func(*Snapshot)
	nextID    int
}

// NewDirectory creates a directory holding s.
func NewDirectory(s Snapshot) *Directory {
	d := &Directory{listeners: make(map[int]func(*Snapshot))}
	d.current.Store(normalize(s))
	return d
}

func normalize(s Snapshot) *Snapshot {
	if s.Chains == nil {
		s.Chains = map[ChainID]Chain{}
	}
	if s.EvmNetworks == nil {
		s.EvmNetworks = map[EvmNetworkID]EvmNetwork{}
	}
	if s.Tokens == nil {
		s.Tokens = map[TokenID]Token{}
	}
	return &s
}

// Snapshot returns the current snapshot. Callers must not modify it.
func (d *Directory) Snapshot() *Snapshot {
	return d.current.Load()
}

// Replace swaps in a new snapshot and notifies listeners.
func (d *Directory) Replace(s Snapshot) {
	snap := normalize(s)
	d.current.Store(snap)

	d.mu.Lock()
	fns := make([]func(*Snapshot), 0, len(d.listeners))
	for _, fn := range d.listeners {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// OnReplace registers fn to run after every Replace. The returned function
// removes the listener and may be called more than once.
func (d *Directory) OnReplace(fn func(*Snapshot)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *Directory) Chain(id ChainID) (Chain, error) {
	c, ok := d.Snapshot().Chains[id]
	if !ok {
		return Chain{}, fmt.Errorf("chain %s: %w", id, ErrNotFound)
	}
	return c, nil
}

func (d *Directory) EvmNetwork(id EvmNetworkID) (EvmNetwork, error) {
	n, ok := d.Snapshot().EvmNetworks[id]
	if !ok {
		return EvmNetwork{}, fmt.Errorf("evm network %s: %w", id, ErrNotFound)
	}
	return n, nil
}

func (d *Directory) Token(id TokenID) (Token, error) {
	t, ok := d.Snapshot().Tokens[id]
	if !ok {
		return Token{}, fmt.Errorf("token %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// ChainByGenesis finds the chain with the given genesis hash.
func (d *Directory) ChainByGenesis(genesis string) (Chain, error) {
	for _, c := range d.Snapshot().Chains {
		if c.GenesisHash != "" && c.GenesisHash == genesis {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("genesis %s: %w", genesis, ErrNotFound)
}

// Chains returns all chains ordered by sort index, then id.
func (d *Directory) Chains() []Chain {
	snap := d.Snapshot()
	out := make([]Chain, 0, len(snap.Chains))
	for _, c := range snap.Chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortIndex != out[j].SortIndex {
			return out[i].SortIndex < out[j].SortIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EvmNetworks returns all networks ordered by sort index, then id.
func (d *Directory) EvmNetworks() []EvmNetwork {
	snap := d.Snapshot()
	out := make([]EvmNetwork, 0, len(snap.EvmNetworks))
	for _, n := range snap.EvmNetworks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortIndex != out[j].SortIndex {
			return out[i].SortIndex < out[j].SortIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Tokens returns all tokens ordered by id.
func (d *Directory) Tokens() []Token {
	snap := d.Snapshot()
	out := make([]Token, 0, len(snap.Tokens))
	for _, t := range snap.Tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TokensBySource returns the tokens of one protocol on one chain or network.
func (d *Directory) TokensBySource(chainRef string, source Source) []Token {
	var out []Token
	for _, t := range d.Tokens() {
		if t.Type == source && t.ChainRef() == chainRef {
			out = append(out, t)
		}
	}
	return out
}
