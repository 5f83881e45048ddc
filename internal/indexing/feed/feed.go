// Package feed drives balance modules on behalf of subscribers.
//
// A request is split into one feed per (chain, source). Each feed owns one
// module subscription, remembers the last snapshot it delivered and drops
// snapshots equal to it. Feeds deliver in order and fail independently.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/modules"
)

// ModuleSource resolves protocol tags to modules.
type ModuleSource interface {
	Module(source domain.Source) (modules.Module, error)
}

// Key identifies a feed.
type Key struct {
	ChainRef string
	Source   domain.Source
}

func (k Key) String() string { return k.ChainRef + "/" + string(k.Source) }

// Update is one delivery from a feed: either a changed snapshot or an error.
type Update struct {
	Key
	Balances *balance.Balances
	Err      error
}

// Handler receives updates. Calls for one feed never overlap and arrive in
// the order the module produced them.
type Handler func(Update)

// Group is the part of a request served by one feed.
type Group struct {
	Key
	Request modules.AddressesByToken
}

// Split groups a request by (chain, source). Unknown tokens are an error.
func Split(dir *domain.Directory, req modules.AddressesByToken) ([]Group, error) {
	byKey := make(map[Key]modules.AddressesByToken)
	for _, id := range req.Tokens() {
		t, err := dir.Token(id)
		if err != nil {
			return nil, err
		}
		k := Key{ChainRef: t.ChainRef(), Source: t.Type}
		if byKey[k] == nil {
			byKey[k] = make(modules.AddressesByToken)
		}
		byKey[k][id] = req[id]
	}

	out := make([]Group, 0, len(byKey))
	for k, r := range byKey {
		out = append(out, Group{Key: k, Request: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Config tunes the orchestrator.
type Config struct {
	// RetryInterval is the wait before reopening a feed whose module
	// subscription could not be opened.
	RetryInterval time.Duration
}

// Status describes one running feed.
type Status struct {
	Key
	Subscription string
	Emissions    int64
	Duplicates   int64
	Errors       int64
	LastEmission time.Time
	LastError    string
}

// Orchestrator runs feeds.
type Orchestrator struct {
	dir  *domain.Directory
	mods ModuleSource
	cfg  Config
	log  *slog.Logger

	mu    sync.Mutex
	feeds map[string][]*feed
}

// New creates an orchestrator.
func New(dir *domain.Directory, mods ModuleSource, cfg Config) *Orchestrator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 10 * time.Second
	}
	return &Orchestrator{
		dir:   dir,
		mods:  mods,
		cfg:   cfg,
		log:   slog.Default().With("component", "orchestrator"),
		feeds: make(map[string][]*feed),
	}
}

// Subscription is a running subscription.
type Subscription struct {
	ID   string
	once sync.Once
	stop func()
}

// Unsubscribe stops every feed of the subscription. Updates not yet
// delivered are dropped. Calling it again is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.stop)
}

// Subscribe starts one feed per (chain, source) in req and routes their
// updates to h.
func (o *Orchestrator) Subscribe(ctx context.Context, req modules.AddressesByToken, h Handler) (*Subscription, error) {
	groups, err := Split(o.dir, req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(ctx)
	feeds := make([]*feed, 0, len(groups))
	for _, g := range groups {
		mod, err := o.mods.Module(g.Source)
		if err != nil {
			cancel()
			for _, f := range feeds {
				f.stop()
			}
			return nil, fmt.Errorf("feed %s: %w", g.Key, err)
		}
		f := newFeed(id, g, mod, h, o.cfg.RetryInterval, o.log)
		feeds = append(feeds, f)
	}
	for _, f := range feeds {
		go f.run(ctx)
	}

	o.mu.Lock()
	o.feeds[id] = feeds
	o.mu.Unlock()
	o.log.Info("subscription started", "subscription", id, "feeds", len(feeds))

	return &Subscription{
		ID: id,
		stop: func() {
			o.mu.Lock()
			delete(o.feeds, id)
			o.mu.Unlock()
			cancel()
			for _, f := range feeds {
				f.stop()
			}
			o.log.Info("subscription stopped", "subscription", id)
		},
	}, nil
}

// Fetch reads req once, one module call per (chain, source). Failed groups
// are left out of the result and their errors joined.
func (o *Orchestrator) Fetch(ctx context.Context, req modules.AddressesByToken) (*balance.Balances, error) {
	groups, err := Split(o.dir, req)
	if err != nil {
		return nil, err
	}

	results := make([]*balance.Balances, len(groups))
	errs := make([]error, len(groups))
	var g errgroup.Group
	g.SetLimit(8)
	for i, grp := range groups {
		g.Go(func() error {
			mod, err := o.mods.Module(grp.Source)
			if err != nil {
				errs[i] = fmt.Errorf("feed %s: %w", grp.Key, err)
				return nil
			}
			bs, err := mod.FetchBalances(ctx, grp.Request)
			if err != nil {
				errs[i] = fmt.Errorf("feed %s: %w", grp.Key, err)
				return nil
			}
			results[i] = bs
			return nil
		})
	}
	_ = g.Wait()

	out := balance.NewBalances()
	for _, bs := range results {
		if bs != nil {
			out = out.Merge(bs)
		}
	}
	return out, errors.Join(errs...)
}

// Status lists every running feed.
func (o *Orchestrator) Status() []Status {
	o.mu.Lock()
	var feeds []*feed
	for _, fs := range o.feeds {
		feeds = append(feeds, fs...)
	}
	o.mu.Unlock()

	out := make([]Status, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, f.status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subscription != out[j].Subscription {
			return out[i].Subscription < out[j].Subscription
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

type feed struct {
	sub   string
	group Group
	mod   modules.Module
	h     Handler
	retry time.Duration
	log   *slog.Logger

	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once

	mu       sync.Mutex
	queue    []Update
	wake     chan struct{}
	last     *balance.Balances
	lastAt   time.Time
	lastErr  string
	emitted  int64
	dupes    int64
	failures int64
}

func newFeed(sub string, g Group, mod modules.Module, h Handler, retry time.Duration, log *slog.Logger) *feed {
	return &feed{
		sub:   sub,
		group: g,
		mod:   mod,
		h:     h,
		retry: retry,
		log:   log.With("chain", g.ChainRef, "source", g.Source),
		done:  make(chan struct{}),
		wake:  make(chan struct{}, 1),
	}
}

func (f *feed) stop() {
	f.once.Do(func() {
		f.stopped.Store(true)
		close(f.done)
	})
}

// push queues a module callback. It never blocks the module.
func (f *feed) push(bs *balance.Balances, err error) {
	if f.stopped.Load() {
		return
	}
	f.mu.Lock()
	f.queue = append(f.queue, Update{Key: f.group.Key, Balances: bs, Err: err})
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *feed) run(ctx context.Context) {
	unsub := f.open(ctx)
	if unsub != nil {
		defer unsub()
	}
	for {
		select {
		case <-f.done:
			return
		case <-ctx.Done():
			return
		case <-f.wake:
			f.drain()
		}
	}
}

// open subscribes the module, retrying until it succeeds or the feed stops.
func (f *feed) open(ctx context.Context) func() {
	for {
		unsub, err := f.mod.SubscribeBalances(ctx, f.group.Request, f.push)
		if err == nil {
			return unsub
		}
		f.log.Warn("feed subscribe failed", "error", err)
		f.push(nil, err)
		f.drain()

		t := time.NewTimer(f.retry)
		select {
		case <-f.done:
			t.Stop()
			return nil
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (f *feed) drain() {
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			return
		}
		u := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		if f.stopped.Load() {
			return
		}
		f.deliver(u)
	}
}

func (f *feed) deliver(u Update) {
	labels := []string{f.group.ChainRef, string(f.group.Source)}
	if u.Err != nil {
		f.mu.Lock()
		f.failures++
		f.lastErr = u.Err.Error()
		// Subscribers mark this feed stale on error, so the next snapshot
		// must go out even if it is unchanged.
		f.last = nil
		f.mu.Unlock()
		metrics.FeedErrorsTotal.WithLabelValues(labels...).Inc()
		f.h(u)
		return
	}

	f.mu.Lock()
	if f.last != nil && f.last.Equal(u.Balances) {
		f.dupes++
		f.mu.Unlock()
		metrics.FeedDuplicatesTotal.WithLabelValues(labels...).Inc()
		return
	}
	f.last = u.Balances
	f.lastAt = time.Now()
	f.lastErr = ""
	f.emitted++
	f.mu.Unlock()

	metrics.FeedEmissionsTotal.WithLabelValues(labels...).Inc()
	f.h(u)
}

func (f *feed) status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		Key:          f.group.Key,
		Subscription: f.sub,
		Emissions:    f.emitted,
		Duplicates:   f.dupes,
		Errors:       f.failures,
		LastEmission: f.lastAt,
		LastError:    f.lastErr,
	}
}
