package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/chainwallet/internal/core/balance"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/indexing/emitter"
	"github.com/vietddude/chainwallet/internal/indexing/metrics"
	"github.com/vietddude/chainwallet/internal/modules"
)

// BuildRequest pairs every token with the accounts that can hold it: 0x
// addresses for EVM tokens and all other addresses for substrate tokens.
func BuildRequest(tokens []domain.Token, accounts []domain.Account) modules.AddressesByToken {
	var evmAddrs, substrateAddrs []string
	for _, a := range accounts {
		if domain.IsEthereumAddress(a.Address) {
			evmAddrs = append(evmAddrs, a.Address)
		} else {
			substrateAddrs = append(substrateAddrs, a.Address)
		}
	}

	req := make(modules.AddressesByToken)
	for _, t := range tokens {
		addrs := substrateAddrs
		if t.Type.Family() == domain.FamilyEVM {
			addrs = evmAddrs
		}
		if len(addrs) == 0 {
			continue
		}
		req[t.ID] = append([]string(nil), addrs...)
	}
	return req
}

// LogEmitter writes stream events to the log.
type LogEmitter struct {
	log *slog.Logger
}

func (e *LogEmitter) Emit(ctx context.Context, event emitter.Event) error {
	log := e.log
	if log == nil {
		log = slog.Default()
	}
	switch event.Kind {
	case emitter.KindDelete:
		log.Info("[BALANCE] delete", "ids", event.IDs)
	case emitter.KindInitialising:
		log.Info("[BALANCE] initialising")
	default:
		if event.Balances == nil {
			return nil
		}
		for _, b := range event.Balances.Each() {
			log.Info("[BALANCE] "+string(event.Kind),
				"id", b.ID(),
				"status", b.Status(),
				"total", b.Total().String(),
				"symbol", b.Symbol(),
			)
		}
	}
	return nil
}

func (e *LogEmitter) Close() error { return nil }

func (w *Wallet) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := map[balance.Status]int{balance.StatusLive: 0, balance.StatusCache: 0}
			for _, b := range w.stream.Current().Each() {
				counts[b.Status()]++
			}
			for status, n := range counts {
				metrics.BalancesTracked.WithLabelValues(string(status)).Set(float64(n))
			}
		}
	}
}
