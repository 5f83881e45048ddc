package emitter

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/indexing/feed"
	"github.com/vietddude/chainwallet/internal/infra/storage"
)

// Stream holds the aggregated balances and publishes every change to its
// subscribers in order.
type Stream struct {
	repo    storage.BalanceRepository
	persist *Persister
	log     *slog.Logger

	// pub serializes publishing so subscribers see events in order.
	pub sync.Mutex

	mu          sync.Mutex
	hydrate     *balance.HydrationContext
	current     *balance.Balances
	initialised bool
	byFeed      map[feed.Key][]string
	subs        map[string]Emitter
}

// NewStream creates a stream. repo may be nil; persist may be nil, in which
// case live balances are not persisted.
func NewStream(repo storage.BalanceRepository, persist *Persister) *Stream {
	return &Stream{
		repo:    repo,
		persist: persist,
		log:     slog.Default().With("component", "stream"),
		current: balance.NewBalances(),
		byFeed:  make(map[feed.Key][]string),
		subs:    make(map[string]Emitter),
	}
}

// Load publishes the persisted balances with cache status as a reset.
func (s *Stream) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	raw, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	hydrate := s.hydrate
	s.mu.Unlock()
	items := make([]*balance.Balance, 0, len(raw))
	for _, r := range raw {
		r.Status = balance.StatusCache
		items = append(items, balance.New(r, hydrate))
	}
	s.log.Info("loaded cached balances", "count", len(items))
	s.Reset(ctx, balance.NewBalances(items...))
	return nil
}

// Subscribe registers e. It first receives initialising, or a reset with
// the current state. The returned function removes e and may be called
// more than once.
func (s *Stream) Subscribe(ctx context.Context, e Emitter) func() {
	s.pub.Lock()
	defer s.pub.Unlock()

	id := uuid.NewString()
	s.mu.Lock()
	first := Event{Kind: KindInitialising}
	if s.initialised {
		first = Event{Kind: KindReset, Balances: s.current}
	}
	s.subs[id] = e
	s.mu.Unlock()

	if err := e.Emit(ctx, first); err != nil {
		s.log.Warn("emit failed", "subscriber", id, "kind", first.Kind, "error", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			_ = e.Close()
		})
	}
}

// Current returns the aggregated balances.
func (s *Stream) Current() *balance.Balances {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Initialised reports whether a snapshot has been published.
func (s *Stream) Initialised() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialised
}

// Reset replaces the whole state.
func (s *Stream) Reset(ctx context.Context, bs *balance.Balances) {
	s.pub.Lock()
	defer s.pub.Unlock()

	s.mu.Lock()
	s.current = bs
	s.initialised = true
	s.byFeed = make(map[feed.Key][]string)
	s.mu.Unlock()

	s.publish(ctx, Event{Kind: KindReset, Balances: bs})
}

// SetHydration switches the context used for display fields. Current
// balances are rehydrated and republished as a reset once initialised.
func (s *Stream) SetHydration(ctx context.Context, h *balance.HydrationContext) {
	s.pub.Lock()
	defer s.pub.Unlock()

	s.mu.Lock()
	s.hydrate = h
	s.current = s.current.WithHydration(h)
	current, initialised := s.current, s.initialised
	s.mu.Unlock()

	if initialised {
		s.publish(ctx, Event{Kind: KindReset, Balances: current})
	}
}

// Apply folds one feed update into the state. A snapshot upserts the feed's
// balances and deletes those the feed no longer reports. An error marks the
// feed's balances as cache.
func (s *Stream) Apply(ctx context.Context, u feed.Update) {
	s.pub.Lock()
	defer s.pub.Unlock()

	if u.Err != nil {
		s.markStale(ctx, u.Key)
		return
	}

	s.mu.Lock()
	bs := u.Balances.WithHydration(s.hydrate)
	ids := bs.IDs()
	prev := s.byFeed[u.Key]
	s.byFeed[u.Key] = ids
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	var gone []string
	for _, id := range prev {
		if _, ok := keep[id]; !ok {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	s.current = s.current.Merge(bs)
	if len(gone) > 0 {
		s.current = s.current.Remove(gone...)
	}
	s.initialised = true
	s.mu.Unlock()

	s.publish(ctx, Event{Kind: KindUpsert, Balances: bs})
	if len(gone) > 0 {
		s.publish(ctx, Event{Kind: KindDelete, IDs: gone})
	}

	if s.persist != nil {
		s.persist.Save(bs.Storage())
		if len(gone) > 0 {
			s.persist.Delete(gone)
		}
	}
}

func (s *Stream) markStale(ctx context.Context, key feed.Key) {
	s.mu.Lock()
	var stale []*balance.Balance
	for _, id := range s.byFeed[key] {
		if b, ok := s.current.Get(id); ok && b.Status() == balance.StatusLive {
			stale = append(stale, b.WithStatus(balance.StatusCache))
		}
	}
	if len(stale) == 0 {
		s.mu.Unlock()
		return
	}
	s.current = s.current.Add(stale...)
	s.mu.Unlock()

	s.publish(ctx, Event{Kind: KindUpsert, Balances: balance.NewBalances(stale...)})
}

// publish must be called with pub held.
func (s *Stream) publish(ctx context.Context, ev Event) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	subs := make([]Emitter, len(ids))
	for i, id := range ids {
		subs[i] = s.subs[id]
	}
	s.mu.Unlock()

	for i, e := range subs {
		if err := e.Emit(ctx, ev); err != nil {
			s.log.Warn("emit failed", "subscriber", ids[i], "kind", ev.Kind, "error", err)
		}
	}
}
