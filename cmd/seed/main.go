package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/config"
	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/storage"
)

type seedEntry struct {
	symbol        string
	liquidityRank int
	bundle        domain.ParameterBundle
}

// defaultUniverse is a conservative starting set: deep books, 1.5x ATR
// stops, ATR-above-MA volatility gate. Tune per instrument after the first
// optimization pass.
var defaultUniverse = []seedEntry{
	{
		symbol: "BTCUSDT", liquidityRank: 1,
		bundle: domain.ParameterBundle{
			StopMultiplier: 1.5,
			VolGateMode:    domain.VolGateATRAboveMA,
			ATRMALength:    20,
			RSIReference:   55,
		},
	},
	{
		symbol: "ETHUSDT", liquidityRank: 2,
		bundle: domain.ParameterBundle{
			StopMultiplier: 1.5,
			VolGateMode:    domain.VolGateATRAboveMA,
			ATRMALength:    20,
			RSIReference:   55,
		},
	},
	{
		symbol: "SOLUSDT", liquidityRank: 3,
		bundle: domain.ParameterBundle{
			StopMultiplier:         2.0,
			VolGateMode:            domain.VolGateATRPercentile,
			ATRPercentileThreshold: 60,
			RSIReference:           55,
		},
	},
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	for _, entry := range defaultUniverse {
		inst := &domain.Instrument{
			ID:            uuid.NewString(),
			Symbol:        entry.symbol,
			QuoteAsset:    "USDT",
			LiquidityRank: entry.liquidityRank,
			IsActive:      true,
			CreatedAt:     now,
		}
		if err := store.SaveInstrument(ctx, inst); err != nil {
			log.Fatal("Failed to save instrument", zap.String("symbol", entry.symbol), zap.Error(err))
		}

		bundle := entry.bundle
		bundle.ID = uuid.NewString()
		bundle.InstrumentID = inst.ID
		bundle.Version = 1
		bundle.IsActive = true
		bundle.CreatedAt = now
		if err := store.SaveBundle(ctx, &bundle); err != nil {
			log.Fatal("Failed to save bundle", zap.String("symbol", entry.symbol), zap.Error(err))
		}

		log.Info("seeded instrument",
			zap.String("symbol", entry.symbol),
			zap.String("instrument_id", inst.ID),
			zap.String("bundle_id", bundle.ID))
	}

	log.Info("seed complete", zap.Int("instruments", len(defaultUniverse)))
}
