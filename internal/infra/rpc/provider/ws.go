package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// maxEarlyNotifications bounds notifications buffered for a subscription id
// whose subscribe response has not been handled yet.
const maxEarlyNotifications = 16

// Notification is delivered for each subscription event. Err is set when the
// connection drops; no further notifications follow it.
type Notification struct {
	Result json.RawMessage
	Err    error
}

type subscription struct {
	notifyMethod string
	unsubMethod  string

	// mu serialises delivery so buffered notifications precede live ones.
	mu       sync.Mutex
	callback func(Notification)
}

func (s *subscription) deliver(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback(n)
}

// WSProvider implements RPCProvider over a websocket connection and adds
// server-push subscriptions.
type WSProvider struct {
	*BaseProvider

	endpoint string
	conn     *websocket.Conn
	logger   *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response
	subs    map[string]*subscription
	early   map[string][]json.RawMessage
	closed  bool
	done    chan struct{}
}

// DialWS connects to a websocket JSON-RPC endpoint.
func DialWS(ctx context.Context, name, endpoint string) (*WSProvider, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	p := &WSProvider{
		BaseProvider: NewBaseProvider(name),
		endpoint:     endpoint,
		conn:         conn,
		logger:       slog.Default().With("component", "ws-provider", "endpoint", name),
		pending:      make(map[uint64]chan response),
		subs:         make(map[string]*subscription),
		early:        make(map[string][]json.RawMessage),
		done:         make(chan struct{}),
	}
	go p.readLoop()
	return p, nil
}

// Endpoint returns the URL the provider is connected to.
func (p *WSProvider) Endpoint() string {
	return p.endpoint
}

// Done is closed when the connection is gone.
func (p *WSProvider) Done() <-chan struct{} {
	return p.done
}

func (p *WSProvider) send(ctx context.Context, req request) (response, error) {
	ch := make(chan response, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return response{}, ErrClosed
	}
	p.pending[req.ID] = ch
	p.mu.Unlock()

	p.writeMu.Lock()
	err := p.conn.WriteJSON(req)
	p.writeMu.Unlock()
	if err != nil {
		p.dropPending(req.ID)
		p.RecordFailure()
		return response{}, fmt.Errorf("write %s: %w", req.Method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return response{}, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		p.dropPending(req.ID)
		return response{}, ctx.Err()
	}
}

func (p *WSProvider) dropPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

// Call makes a single JSON-RPC call.
func (p *WSProvider) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	resp, err := p.send(ctx, newRequest(p.nextID.Add(1), method, params))
	if err != nil {
		return nil, err
	}
	if p.Monitor.ObserveRPCError(resp.Error) {
		p.RecordFailure()
		return nil, fmt.Errorf("throttle in rpc error: %w", resp.Error)
	}
	p.RecordSuccess(time.Since(start))
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// BatchCall issues the requests concurrently over the shared connection.
func (p *WSProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	out := make([]BatchResponse, len(requests))
	var wg sync.WaitGroup
	for i, r := range requests {
		wg.Add(1)
		go func(i int, r BatchRequest) {
			defer wg.Done()
			res, err := p.Call(ctx, r.Method, r.Params)
			out[i] = BatchResponse{Result: res, Error: err}
		}(i, r)
	}
	wg.Wait()
	return out, nil
}

// Subscribe issues subMethod and routes notifyMethod events carrying the
// returned subscription id to cb. cb runs on the read loop and must not
// block. The returned function unsubscribes; it is safe to call more than once.
func (p *WSProvider) Subscribe(
	ctx context.Context,
	subMethod, unsubMethod, notifyMethod string,
	params []any,
	cb func(Notification),
) (func(), error) {
	result, err := p.Call(ctx, subMethod, params)
	if err != nil {
		return nil, err
	}
	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		// Some nodes use numeric subscription ids.
		subID = string(result)
	}

	sub := &subscription{notifyMethod: notifyMethod, unsubMethod: unsubMethod, callback: cb}
	sub.mu.Lock()
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.mu.Unlock()
		return nil, ErrClosed
	}
	p.subs[subID] = sub
	buffered := p.early[subID]
	delete(p.early, subID)
	p.mu.Unlock()

	for _, raw := range buffered {
		cb(Notification{Result: raw})
	}
	sub.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			_, live := p.subs[subID]
			delete(p.subs, subID)
			p.mu.Unlock()
			if !live {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := p.Call(ctx, unsubMethod, []any{subID}); err != nil && !errors.Is(err, ErrClosed) {
				p.logger.Debug("unsubscribe failed", "method", unsubMethod, "error", err)
			}
		})
	}, nil
}

type subscriptionParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func (p *WSProvider) readLoop() {
	defer p.shutdown(ErrClosed)

	for {
		var msg response
		if err := p.conn.ReadJSON(&msg); err != nil {
			p.mu.Lock()
			closed := p.closed
			p.mu.Unlock()
			if !closed {
				p.logger.Warn("websocket read failed", "error", err)
				p.RecordFailure()
			}
			return
		}

		if msg.ID != nil {
			p.mu.Lock()
			ch, ok := p.pending[*msg.ID]
			delete(p.pending, *msg.ID)
			p.mu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		if msg.Method == "" {
			continue
		}
		var sp subscriptionParams
		if err := json.Unmarshal(msg.Params, &sp); err != nil {
			p.logger.Debug("bad notification", "method", msg.Method, "error", err)
			continue
		}
		var subID string
		if err := json.Unmarshal(sp.Subscription, &subID); err != nil {
			subID = string(sp.Subscription)
		}

		p.mu.Lock()
		sub, ok := p.subs[subID]
		if !ok {
			if len(p.early[subID]) < maxEarlyNotifications {
				p.early[subID] = append(p.early[subID], sp.Result)
			}
			p.mu.Unlock()
			continue
		}
		p.mu.Unlock()

		if sub.notifyMethod == "" || sub.notifyMethod == msg.Method {
			sub.deliver(Notification{Result: sp.Result})
		}
	}
}

func (p *WSProvider) shutdown(reason error) {
	p.mu.Lock()
	if p.closed && p.pending == nil {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.pending
	subs := p.subs
	p.pending = nil
	p.subs = make(map[string]*subscription)
	p.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, sub := range subs {
		sub.deliver(Notification{Err: reason})
	}
	close(p.done)
}

// Close closes the connection. Pending calls fail with ErrClosed and live
// subscriptions receive a final error notification.
func (p *WSProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}
