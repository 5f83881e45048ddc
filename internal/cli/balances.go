package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainwallet/internal/control"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Fetch and print the balances of all tracked accounts once",
	Run:   runBalances,
}

func init() {
	rootCmd.AddCommand(balancesCmd)
}

func runBalances(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app, err := control.NewWallet(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Wallet", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	bs, err := app.Fetch(ctx)
	if bs == nil {
		slog.Error("Failed to fetch balances", "error", err)
		os.Exit(1)
	}
	if err != nil {
		slog.Warn("Some balances could not be fetched", "error", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHAIN\tTOKEN\tADDRESS\tTOTAL\tTRANSFERABLE\tSTATUS")
	for _, b := range bs.Sorted() {
		total, transferable := b.Total().String(), b.Transferable().String()
		if d, ok := b.Total().Tokens(); ok {
			total = d.String()
		}
		if d, ok := b.Transferable().Tokens(); ok {
			transferable = d.String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			b.Storage().ChainRef(), b.Symbol(), b.Address(), total, transferable, b.Status())
	}
	_ = w.Flush()
}
