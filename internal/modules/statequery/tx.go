package statequery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/chainwallet/internal/codec/storage"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
)

// EraPeriod is how many blocks a built transaction stays valid.
const EraPeriod = 64

// Candidate is one way of expressing a call.
type Candidate struct {
	Pallet string
	Call   string
	Args   map[string]any
}

func (c Candidate) String() string {
	return c.Pallet + "." + c.Call
}

// BuildCall encodes the first candidate that succeeds. When every candidate
// fails, the error joins each failure.
func BuildCall(b *storage.Builder, candidates []Candidate) ([]byte, string, error) {
	errs := make([]error, 0, len(candidates))
	for _, c := range candidates {
		call, err := b.EncodeCall(c.Pallet, c.Call, c.Args)
		if err == nil {
			return call, c.String(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c, err))
	}
	if len(errs) == 0 {
		return nil, "", fmt.Errorf("%w: no call candidates", domain.ErrConstruction)
	}
	return nil, "", fmt.Errorf("%w: no candidate call could be built: %w", domain.ErrConstruction, errors.Join(errs...))
}

type header struct {
	Number string `json:"number"`
}

// Prepare wraps call into an unsigned transaction from the sender with the
// current nonce, runtime version and a mortal era anchored at the finalized
// head.
func Prepare(
	ctx context.Context,
	conn Connector,
	chainID domain.ChainID,
	source domain.Source,
	from string,
	call []byte,
	method string,
	tip *big.Int,
) (*modules.UnsignedTx, error) {
	pub, err := PublicKey(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConstruction, err)
	}
	b, rv, err := conn.Registry(ctx, chainID)
	if err != nil {
		return nil, err
	}

	var (
		nonce     uint32
		genesis   string
		blockHash string
		number    uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := conn.Send(gctx, chainID, "system_accountNextIndex", []any{from})
		if err != nil {
			return err
		}
		if err := json.Unmarshal(res, &nonce); err != nil {
			return fmt.Errorf("%w: nonce: %v", domain.ErrDecode, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		genesis, err = conn.GenesisHash(gctx, chainID)
		return err
	})
	g.Go(func() error {
		res, err := conn.Send(gctx, chainID, "chain_getFinalizedHead", nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(res, &blockHash); err != nil {
			return fmt.Errorf("%w: finalized head: %v", domain.ErrDecode, err)
		}
		res, err = conn.SendAt(gctx, chainID, "chain_getHeader", nil, blockHash)
		if err != nil {
			return err
		}
		var h header
		if err := json.Unmarshal(res, &h); err != nil {
			return fmt.Errorf("%w: header: %v", domain.ErrDecode, err)
		}
		n, ok := new(big.Int).SetString(trimHex(h.Number), 16)
		if !ok {
			return fmt.Errorf("%w: header number %q", domain.ErrDecode, h.Number)
		}
		number = n.Uint64()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("prepare transaction on %s: %w", chainID, err)
	}

	genesisBytes, err := storage.FromHex(genesis)
	if err != nil {
		return nil, fmt.Errorf("%w: genesis hash: %v", domain.ErrDecode, err)
	}
	blockBytes, err := storage.FromHex(blockHash)
	if err != nil {
		return nil, fmt.Errorf("%w: block hash: %v", domain.ErrDecode, err)
	}

	tx, err := b.NewTx(call, storage.TxParams{
		SpecVersion: rv.SpecVersion,
		TxVersion:   rv.TransactionVersion,
		GenesisHash: genesisBytes,
		BlockHash:   blockBytes,
		Nonce:       nonce,
		Tip:         tip,
		Era:         storage.MortalEra(EraPeriod, number),
	})
	if err != nil {
		return nil, err
	}
	return &modules.UnsignedTx{
		Source:          source,
		ChainID:         chainID,
		From:            from,
		Method:          method,
		Substrate:       tx,
		SignerPublicKey: pub,
	}, nil
}

func trimHex(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
