package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/infra/rpc/routing"
)

// Connector owns one Client per network.
type Connector struct {
	cfg Config

	mu      sync.RWMutex
	clients map[domain.EvmNetworkID]*Client
}

// NewConnector creates an empty connector.
func NewConnector(cfg Config) *Connector {
	return &Connector{cfg: cfg, clients: make(map[domain.EvmNetworkID]*Client)}
}

// AddNetwork creates or replaces the client for network.
func (c *Connector) AddNetwork(network domain.EvmNetwork) {
	client := NewClient(network.ID, network.RPCs, c.cfg)
	c.SetClient(client)
}

// SetClient installs a prebuilt client.
func (c *Connector) SetClient(client *Client) {
	c.mu.Lock()
	old := c.clients[client.NetworkID()]
	c.clients[client.NetworkID()] = client
	c.mu.Unlock()

	if old != nil && old != client {
		_ = old.Close()
	}
}

// Client returns the client for a network.
func (c *Connector) Client(id domain.EvmNetworkID) (*Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	client, ok := c.clients[id]
	if !ok {
		return nil, fmt.Errorf("evm network %s: %w", id, domain.ErrNotFound)
	}
	return client, nil
}

// Networks lists the configured networks.
func (c *Connector) Networks() []domain.EvmNetworkID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.EvmNetworkID, 0, len(c.clients))
	for id := range c.clients {
		out = append(out, id)
	}
	return out
}

// Endpoints reports endpoint health per network.
func (c *Connector) Endpoints() map[domain.EvmNetworkID][]routing.EndpointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[domain.EvmNetworkID][]routing.EndpointStatus, len(c.clients))
	for id, client := range c.clients {
		out[id] = client.Endpoints()
	}
	return out
}

// Send makes one call on the network.
func (c *Connector) Send(ctx context.Context, id domain.EvmNetworkID, method string, params []any) (json.RawMessage, error) {
	client, err := c.Client(id)
	if err != nil {
		return nil, err
	}
	return client.Call(ctx, method, params)
}

// Close closes every client.
func (c *Connector) Close() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[domain.EvmNetworkID]*Client)
	c.mu.Unlock()

	var errs []error
	for _, client := range clients {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
