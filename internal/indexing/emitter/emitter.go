// Package emitter publishes the aggregated balance state to collaborators.
package emitter

import (
	"context"

	"github.com/vietddude/chainwallet/internal/core/balance"
)

// Kind is the type of a stream event.
type Kind string

const (
	// KindInitialising is sent until the first snapshot is known.
	KindInitialising Kind = "initialising"
	// KindReset replaces the whole state.
	KindReset Kind = "reset"
	// KindUpsert adds or replaces the given balances.
	KindUpsert Kind = "upsert"
	// KindDelete removes balances by id.
	KindDelete Kind = "delete"
)

// Event is one stream message. Balances is set for reset and upsert, IDs
// for delete.
type Event struct {
	Kind     Kind
	Balances *balance.Balances
	IDs      []string
}

// Emitter receives stream events.
type Emitter interface {
	// Emit delivers one event
	Emit(ctx context.Context, event Event) error

	// Close releases the emitter
	Close() error
}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, event Event) error

func (f Func) Emit(ctx context.Context, event Event) error { return f(ctx, event) }
func (f Func) Close() error                                { return nil }
