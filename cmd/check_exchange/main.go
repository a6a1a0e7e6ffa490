package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/config"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/exchange"
)

// keyPreview returns the first few characters of a credential, never more
// than it has.
func keyPreview(key string) string {
	if len(key) > 4 {
		return key[:4]
	}
	return key
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "BTCUSDT", "symbol to probe")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Testing Binance Futures interaction...\n")
	fmt.Printf("Testnet: %v\n", cfg.Exchange.Testnet)
	fmt.Printf("API Key: %s...\n", keyPreview(cfg.Exchange.APIKey))

	adapter := exchange.NewBinanceFutures(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet, zap.NewNop())
	ctx := context.Background()
	failed := false

	// Public endpoint: mark price.
	price, err := adapter.GetCurrentPrice(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get price: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Current price (%s): %f\n", *symbol, price)
	}

	// Public endpoint: rounding increments.
	prec, err := adapter.GetInstrumentPrecision(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get precision: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Precision (%s): tick=%g step=%g\n", *symbol, prec.TickSize, prec.StepSize)
	}

	// Public endpoint: funding.
	funding, err := adapter.GetFundingRate(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get funding rate: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Funding rate (%s): %f\n", *symbol, funding)
	}

	// Private endpoint: account balance.
	equity, err := adapter.GetAccountEquity(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get account equity: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Equity: total=%f available=%f\n", equity.Total, equity.Available)
	}

	// Private endpoint: position state.
	pos, err := adapter.GetPositionState(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get position: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Position (%s): qty=%f entry=%f leverage=%d margin=%s\n",
			*symbol, pos.Qty, pos.EntryPrice, pos.Leverage, pos.MarginType)
	}

	// Private write endpoint: leverage and margin mode. Safe to re-run.
	if err := adapter.SetLeverageAndIsolation(ctx, *symbol); err != nil {
		fmt.Printf("❌ Failed to set 1x isolated: %v\n", err)
		failed = true
	} else {
		fmt.Printf("✅ Leverage pinned to 1x isolated (%s)\n", *symbol)
	}

	if failed {
		os.Exit(1)
	}
}
