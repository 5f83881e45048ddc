package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/chainwallet/internal/control"
	"github.com/vietddude/chainwallet/internal/core/domain"
	"github.com/vietddude/chainwallet/internal/modules"
	"github.com/vietddude/chainwallet/internal/transfer"
)

var feeMode string

var feeCmd = &cobra.Command{
	Use:   "transfer-fee [token_id] [from] [to] [amount]",
	Short: "Estimate the fee of a transfer; amount is in the token's smallest unit",
	Args:  cobra.ExactArgs(4),
	Run:   runFee,
}

func init() {
	feeCmd.Flags().StringVar(&feeMode, "mode", "keep-alive", "transfer mode: keep-alive, allow-death or all")
	rootCmd.AddCommand(feeCmd)
}

func runFee(cmd *cobra.Command, args []string) {
	amount, ok := new(big.Int).SetString(args[3], 10)
	if !ok || amount.Sign() < 0 {
		slog.Error("Invalid amount", "amount", args[3])
		os.Exit(1)
	}
	mode, err := modules.ParseTransferMode(feeMode)
	if err != nil {
		slog.Error("Invalid mode", "error", err)
		os.Exit(1)
	}

	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	app, err := control.NewWallet(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize Wallet", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	fee, err := app.EstimateFee(ctx, transfer.Request{
		TokenID: domain.TokenID(args[0]),
		From:    args[1],
		To:      args[2],
		Amount:  amount,
		Mode:    mode,
	})
	if err != nil {
		slog.Error("Failed to estimate fee", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Fee: %s (token %s, via %s)\n", fee.Amount, fee.TokenID, fee.Strategy)
}
