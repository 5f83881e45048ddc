// Package transfer builds, prices and submits transfers.
//
// Transfers from software accounts are signed through a Signer and sent
// right away. Transfers from hardware accounts are parked as pending until a
// caller brings the device signature; each pending transfer is submitted at
// most once.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/infra/chain/evm"
	"github.com/vietddude/chainwallet/internal/infra/rpc/provider"
	infrastorage "github.com/vietddude/chainwallet/internal/infra/storage"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/modules/statequery"
)

// ErrNoSigner is returned when a software account transfer has no signer.
var ErrNoSigner = errors.New("no signer configured")

// Signer signs transfer payloads for software accounts.
type Signer interface {
	Sign(ctx context.Context, address string, payload []byte) (modules.Signature, error)
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, address string, payload []byte) (modules.Signature, error)

func (f SignerFunc) Sign(ctx context.Context, address string, payload []byte) (modules.Signature, error) {
	return f(ctx, address, payload)
}

// TokenModules resolves the module owning a token.
type TokenModules interface {
	ForToken(t domain.Token) (modules.Module, error)
}

// Request is a transfer as a caller describes it.
type Request struct {
	TokenID domain.TokenID
	From    string
	To      string
	Amount  *big.Int
	Mode    modules.TransferMode
	Tip     *big.Int
}

// Result is the outcome of Transfer. Hash is set once submitted, Pending
// when the transfer waits for a hardware signature.
type Result struct {
	Method  string
	Fee     *Fee
	Hash    string
	Pending *PendingTransfer
}

// Service builds and submits transfers.
type Service struct {
	dir      *domain.Directory
	mods     TokenModules
	state    statequery.Connector
	contract *evm.Connector
	accounts infrastorage.AccountRepository
	signer   Signer
	pending  *PendingStore
	now      func() time.Time
	log      *slog.Logger
}

// New creates a service. accounts and signer may be nil: without accounts
// every address is treated as a software account.
func New(
	dir *domain.Directory,
	mods TokenModules,
	state statequery.Connector,
	contract *evm.Connector,
	accounts infrastorage.AccountRepository,
	signer Signer,
) *Service {
	return &Service{
		dir:      dir,
		mods:     mods,
		state:    state,
		contract: contract,
		accounts: accounts,
		signer:   signer,
		pending:  NewPendingStore(),
		now:      time.Now,
		log:      slog.Default().With("component", "transfer"),
	}
}

// Build resolves the token and asks its module for an unsigned transfer.
func (s *Service) Build(ctx context.Context, req Request) (*modules.UnsignedTx, error) {
	token, err := s.dir.Token(req.TokenID)
	if err != nil {
		return nil, err
	}
	mod, err := s.mods.ForToken(token)
	if err != nil {
		return nil, err
	}
	tx, err := mod.TransferToken(ctx, modules.TransferParams{
		Token:  token,
		From:   req.From,
		To:     req.To,
		Amount: req.Amount,
		Mode:   req.Mode,
		Tip:    req.Tip,
	})
	if err != nil {
		return nil, fmt.Errorf("build transfer of %s: %w", req.TokenID, err)
	}
	return tx, nil
}

// Transfer builds and prices req, then submits it or parks it for a
// hardware signature.
func (s *Service) Transfer(ctx context.Context, req Request) (*Result, error) {
	tx, err := s.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	fee, err := s.EstimateFee(ctx, tx)
	if err != nil {
		return nil, err
	}
	res := &Result{Method: tx.Method, Fee: fee}

	hardware, err := s.isHardware(ctx, req.From)
	if err != nil {
		return nil, err
	}
	if hardware {
		p := &PendingTransfer{ChainRef: tx.ChainRef(), Address: req.From, Tx: tx, Fee: fee, CreatedAt: s.now()}
		s.pending.Add(p)
		s.log.Info("transfer waiting for signature", "id", p.ID, "chain", p.ChainRef, "method", tx.Method)
		res.Pending = p
		return res, nil
	}

	if s.signer == nil {
		return nil, ErrNoSigner
	}
	sig, err := s.signer.Sign(ctx, req.From, tx.Payload())
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	res.Hash, err = s.Submit(ctx, tx, sig)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Finalize submits the pending transfer id with sig. The entry is removed
// before submitting, so concurrent and repeated calls submit once; calls
// for unknown ids return an empty hash and no error. When the transaction
// could not be assembled or the node rejected it, the entry is put back so
// the caller can retry with another signature.
func (s *Service) Finalize(ctx context.Context, id string, sig modules.Signature) (string, error) {
	p := s.pending.Take(id)
	if p == nil {
		s.log.Debug("finalize of unknown pending transfer", "id", id)
		return "", nil
	}
	hash, err := s.Submit(ctx, p.Tx, sig)
	if err != nil && neverSent(err) {
		s.pending.Restore(p)
		s.log.Warn("pending transfer kept after failed submit", "id", id, "error", err)
	}
	return hash, err
}

// neverSent reports whether err proves the transaction did not reach the
// chain. Transport failures are ambiguous and count as sent.
func neverSent(err error) bool {
	var rpcErr *provider.RPCError
	return errors.Is(err, domain.ErrConstruction) || errors.As(err, &rpcErr)
}

// Pending lists transfers waiting for a signature.
func (s *Service) Pending() []*PendingTransfer {
	return s.pending.List()
}

// Submit attaches sig to tx and sends it to the chain.
func (s *Service) Submit(ctx context.Context, tx *modules.UnsignedTx, sig modules.Signature) (string, error) {
	wire, err := tx.Assemble(sig)
	if err != nil {
		return "", err
	}

	var hash string
	switch {
	case tx.Substrate != nil:
		res, err := s.state.Send(ctx, tx.ChainID, "author_submitExtrinsic", []any{storage.ToHex(wire)})
		if err != nil {
			return "", fmt.Errorf("submit on %s: %w", tx.ChainID, err)
		}
		if err := json.Unmarshal(res, &hash); err != nil {
			return "", fmt.Errorf("%w: submit result: %v", domain.ErrDecode, err)
		}
	case tx.EVM != nil:
		client, err := s.contract.Client(tx.EvmNetworkID)
		if err != nil {
			return "", err
		}
		h, err := client.SendRawTransaction(ctx, wire)
		if err != nil {
			return "", fmt.Errorf("submit on %s: %w", tx.EvmNetworkID, err)
		}
		hash = h.Hex()
	}

	metrics.TransfersSubmittedTotal.WithLabelValues(tx.ChainRef()).Inc()
	s.log.Info("transfer submitted", "chain", tx.ChainRef(), "method", tx.Method, "hash", hash)
	return hash, nil
}

func (s *Service) isHardware(ctx context.Context, address string) (bool, error) {
	if s.accounts == nil {
		return false, nil
	}
	acc, err := s.accounts.GetByAddress(ctx, address)
	if err != nil {
		return false, fmt.Errorf("load account %s: %w", address, err)
	}
	return acc != nil && acc.Hardware, nil
}
