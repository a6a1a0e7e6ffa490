package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/config"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/indicators"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/notify"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_momentum_bot/internal/metrics"
	"github.com/vitos/crypto_momentum_bot/internal/usecase"
	"github.com/vitos/crypto_momentum_bot/internal/web"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.Level, cfg.Logging.File)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
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

	binance := exchange.NewBinanceFutures(cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Testnet, log)
	notifier := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, log)

	halt := usecase.NewHaltGuard(store, notifier, log)
	safety := usecase.NewSafetySupervisor(binance, halt, log)
	observed := usecase.NewObservedExchange(binance, safety)
	engine := indicators.NewEngine(observed)
	executor := usecase.NewExecutionOrchestrator(observed, store, halt, log, cfg.BotID)
	coordinator := usecase.NewCycleCoordinator(
		store, store, store, observed, engine,
		safety, executor, halt, notifier, log,
	)

	ctx := context.Background()

	// Restore the persisted halt flag before anything trades.
	if err := halt.Load(ctx); err != nil {
		log.Fatal("Failed to load halt state", zap.Error(err))
	}

	// Reconcile against the exchange before the first cycle; a mismatch in
	// either direction halts and waits for the operator.
	reconciler := usecase.NewReconciler(observed, store, halt, log)
	if pos, err := reconciler.Reconcile(ctx); err != nil {
		log.Fatal("Reconciliation failed", zap.Error(err))
	} else if pos != nil {
		log.Info("resuming with confirmed open position",
			zap.String("symbol", pos.Symbol),
			zap.String("direction", string(pos.Direction)))
	}

	// Keep a mark-price stream warm for the universe; REST remains the
	// fallback for symbols that have not ticked.
	stream := exchange.NewPriceStream(cfg.Exchange.Testnet, log)
	stream.OnPriceUpdate(func(symbol string, price float64) {
		metrics.MarkPriceUSD.WithLabelValues(symbol).Set(price)
	})
	if instruments, err := store.ListActiveInstruments(ctx); err == nil && len(instruments) > 0 {
		symbols := make([]string, len(instruments))
		for i, inst := range instruments {
			symbols[i] = inst.Symbol
		}
		if err := stream.Connect(symbols); err != nil {
			log.Warn("price stream unavailable, using REST only", zap.Error(err))
		} else {
			defer stream.Stop()
		}
	}

	server := web.NewServer(cfg.Server.Port, store, halt, safety, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("web server stopped", zap.Error(err))
		}
	}()
	defer server.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	runCycle := func() {
		cycleCtx, cancel := context.WithTimeout(ctx, cfg.CycleInterval())
		defer cancel()
		if err := coordinator.RunCycle(cycleCtx); err != nil {
			log.Error("cycle failed", zap.Error(err))
		}
	}

	log.Info("bot started",
		zap.String("bot_id", cfg.BotID),
		zap.Duration("interval", cfg.CycleInterval()),
		zap.Bool("testnet", cfg.Exchange.Testnet))

	// First cycle fires at the next interval boundary so indicator candles
	// are aligned with the exchange's own buckets.
	wait := time.Until(nextBoundary(time.Now().UTC(), cfg.CycleInterval()))
	log.Info("waiting for first aligned cycle", zap.Duration("wait", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			runCycle()
			timer.Reset(time.Until(nextBoundary(time.Now().UTC(), cfg.CycleInterval())))
		case sig := <-stop:
			log.Info("shutting down", zap.String("signal", sig.String()))
			return
		}
	}
}

// nextBoundary returns the next wall-clock instant aligned to interval, with
// a few seconds of slack so the just-closed candle is available.
func nextBoundary(now time.Time, interval time.Duration) time.Time {
	aligned := now.Truncate(interval).Add(interval)
	return aligned.Add(5 * time.Second)
}
