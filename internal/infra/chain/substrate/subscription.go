package substrate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
	"github.com/vietddude/chainwallet/internal/infra/rpc/routing"
)

type notice struct {
	result json.RawMessage
	err    error
}

type subscription struct {
	connector *Connector
	cc        *chainConn

	subMethod, unsubMethod, notifyMethod string
	params                               []any

	ctx    context.Context
	cancel context.CancelFunc
	queue  *dispatcher

	mu       sync.Mutex
	unsub    func()
	stopped  bool
	stopOnce sync.Once
}

func (s *subscription) open(ctx context.Context) error {
	conn, err := s.cc.connection(ctx, s.connector.dial, s.connector.cfg.DialTimeout)
	if err != nil {
		return err
	}

	unsub, err := conn.Subscribe(ctx, s.subMethod, s.unsubMethod, s.notifyMethod, s.params,
		func(n provider.Notification) {
			if n.Err != nil {
				s.queue.push(notice{err: n.Err})
				go s.restore(conn)
				return
			}
			s.queue.push(notice{result: n.Result})
		})
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		unsub()
		return nil
	}
	s.unsub = unsub
	s.mu.Unlock()
	return nil
}

// restore re-opens the subscription after its connection died.
func (s *subscription) restore(dead *provider.WSProvider) {
	s.cc.reset(dead)
	for attempt := 0; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(routing.Backoff(attempt, s.connector.cfg.Resubscribe)):
		}

		err := s.open(s.ctx)
		if err == nil {
			s.connector.log.Info("subscription restored", "chain", s.cc.chain.ID, "method", s.subMethod)
			return
		}
		if s.ctx.Err() != nil {
			return
		}
		s.connector.log.Warn("resubscribe failed", "chain", s.cc.chain.ID, "method", s.subMethod, "attempt", attempt, "error", err)
		s.queue.push(notice{err: err})
	}
}

// close cancels the subscription. Safe to call more than once.
func (s *subscription) close() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		s.stopped = true
		unsub := s.unsub
		s.unsub = nil
		s.mu.Unlock()

		s.queue.stop()
		if unsub != nil {
			unsub()
		}
	})
}

// dispatcher delivers notices in order on its own goroutine so the
// websocket read loop never waits on a callback.
type dispatcher struct {
	deliver func(notice)

	mu      sync.Mutex
	items   []notice
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newDispatcher(deliver func(notice)) *dispatcher {
	d := &dispatcher{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) push(n notice) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.items = append(d.items, n)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if d.stopped || len(d.items) == 0 {
				d.mu.Unlock()
				break
			}
			n := d.items[0]
			d.items = d.items[1:]
			d.mu.Unlock()
			d.deliver(n)
		}
	}
}

// stop discards anything not yet delivered.
func (d *dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.items = nil
	close(d.done)
}
