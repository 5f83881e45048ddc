package chain

import (
	"context"
	"encoding/json"

	"github.com/vietddude/chainwallet/internal/core/domain"
)

// StateConnector is the request/subscribe boundary for state-query chains.
// Balance modules talk to chains only through it.
type StateConnector interface {
	// Send makes one JSON-RPC call on the chain
	Send(ctx context.Context, chainID domain.ChainID, method string, params []any) (json.RawMessage, error)

	// SendAt makes a call pinned to blockHash. Pinned results are cached.
	SendAt(ctx context.Context, chainID domain.ChainID, method string, params []any, blockHash string) (json.RawMessage, error)

	// Subscribe opens a subscription and routes its notifications to cb.
	// cb receives a non-nil error when the subscription is lost; the
	// returned function cancels and may be called more than once.
	Subscribe(
		ctx context.Context,
		chainID domain.ChainID,
		subMethod, unsubMethod, notifyMethod string,
		params []any,
		cb func(result json.RawMessage, err error),
	) (func(), error)
}
