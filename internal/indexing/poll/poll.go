// Package poll drives balance feeds for chains without push subscriptions.
package poll

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/modules"
)

// Config controls the poll cadence.
type Config struct {
	// Interval between ticks.
	Interval time.Duration
	// ZeroEvery is how often, in ticks, an all-zero snapshot is refreshed.
	ZeroEvery int
}

// DefaultConfig polls every six seconds and empty accounts every fifth tick.
var DefaultConfig = Config{Interval: 6 * time.Second, ZeroEvery: 5}

// FetchFunc reads one snapshot.
type FetchFunc func(ctx context.Context) (*balance.Balances, error)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

var newTicker = func(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

// Loop fetches once immediately and then on every tick. While the last
// snapshot is entirely zero, only every ZeroEvery-th tick fetches. Errors go
// to cb and do not stop the loop. Nothing is delivered after the returned
// function is called; calling it again is a no-op.
func Loop(ctx context.Context, cfg Config, fetch FetchFunc, cb modules.Callback) func() {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig.Interval
	}
	if cfg.ZeroEvery <= 0 {
		cfg.ZeroEvery = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	var (
		mu      sync.Mutex
		stopped bool
	)
	deliver := func(bs *balance.Balances, err error) {
		mu.Lock()
		defer mu.Unlock()
		if stopped || ctx.Err() != nil {
			return
		}
		cb(bs, err)
	}

	t := newTicker(cfg.Interval)
	go func() {
		defer t.Stop()

		zero := false
		tick := 0
		run := func() {
			bs, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				deliver(nil, err)
				return
			}
			zero = bs.IsZero()
			deliver(bs, nil)
		}

		run()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C():
				tick++
				if zero && tick%cfg.ZeroEvery != 0 {
					continue
				}
				run()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			stopped = true
			mu.Unlock()
			cancel()
		})
	}
}
