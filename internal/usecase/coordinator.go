package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/metrics"
)

// CycleCoordinator ties the pipeline together once per clock tick: halt gate,
// then either regime-exit monitoring of the open position or the
// signal→select→size→execute path. Cycles run strictly sequentially; the
// mutex is belt-and-braces for an external trigger firing early. The
// single-open-position invariant is enforced by construction - new-entry
// evaluation never starts while a position is non-terminal.
type CycleCoordinator struct {
	instruments domain.InstrumentRepository
	trades      domain.TradeRepository
	state       domain.SystemStateRepository
	exchange    domain.Exchange
	indicators  domain.IndicatorSource
	safety      *SafetySupervisor
	executor    *ExecutionOrchestrator
	halt        *HaltGuard
	notifier    domain.Notifier
	logger      *zap.Logger

	signals  *SignalEvaluator
	selector *Selector
	sizer    *RiskSizer
	exits    *RegimeExitEvaluator

	mu sync.Mutex
}

func NewCycleCoordinator(
	instruments domain.InstrumentRepository,
	trades domain.TradeRepository,
	state domain.SystemStateRepository,
	exchange domain.Exchange,
	indicators domain.IndicatorSource,
	safety *SafetySupervisor,
	executor *ExecutionOrchestrator,
	halt *HaltGuard,
	notifier domain.Notifier,
	logger *zap.Logger,
) *CycleCoordinator {
	signals := NewSignalEvaluator()
	return &CycleCoordinator{
		instruments: instruments,
		trades:      trades,
		state:       state,
		exchange:    exchange,
		indicators:  indicators,
		safety:      safety,
		executor:    executor,
		halt:        halt,
		notifier:    notifier,
		logger:      logger,
		signals:     signals,
		selector:    NewSelector(),
		sizer:       NewRiskSizer(),
		exits:       NewRegimeExitEvaluator(signals),
	}
}

// RunCycle executes one evaluation cycle. Errors are contained and logged;
// only a wiring-level failure propagates to the caller.
func (c *CycleCoordinator) RunCycle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if halted, reason := c.halt.Halted(); halted {
		c.logger.Warn("system halted, skipping cycle", zap.String("reason", reason))
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return nil
	}

	pos, err := c.trades.GetOpenPosition(ctx)
	if err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}
	if pos != nil {
		c.manageOpenPosition(ctx, pos)
		return nil
	}

	return c.evaluateEntry(ctx)
}

type evalResult struct {
	inst   *domain.Instrument
	bundle *domain.ParameterBundle
	snap   *domain.IndicatorSnapshot
	eval   Evaluation
}

func (c *CycleCoordinator) evaluateEntry(ctx context.Context) error {
	evalTime := time.Now().UTC()

	// An unreadable cooldown state blocks the cycle: entering while a
	// cooldown might be active would defeat the gate.
	cd, err := c.state.GetCooldownState(ctx)
	if err != nil {
		c.logger.Error("failed to read cooldown state, skipping entry cycle", zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}
	if cd.Active {
		c.logger.Info("cooldown active, entries blocked",
			zap.Int("consecutive_losses", cd.ConsecutiveLosses),
			zap.Time("release_after", cd.ReleaseAfter))
		c.recordSelection(ctx, evalTime, "", "BLOCKED_BY_COOLDOWN")
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return nil
	}

	instruments, err := c.instruments.ListActiveInstruments(ctx)
	if err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}

	// Evaluate all instruments concurrently; they are read-only and
	// independent. Selection is the barrier - nothing proceeds until every
	// evaluation has finished.
	var (
		wg      sync.WaitGroup
		resMu   sync.Mutex
		results []evalResult
	)
	for _, inst := range instruments {
		wg.Add(1)
		go func(inst *domain.Instrument) {
			defer wg.Done()
			res, err := c.evaluateInstrument(ctx, inst)
			if err != nil {
				// Missing snapshot or bundle skips the instrument for this
				// cycle, nothing more.
				c.logger.Warn("skipping instrument this cycle",
					zap.String("symbol", inst.Symbol), zap.Error(err))
				metrics.Signals.WithLabelValues("data_error").Inc()
				return
			}
			resMu.Lock()
			results = append(results, res)
			resMu.Unlock()
		}(inst)
	}
	wg.Wait()

	var candidates []*domain.EligibleSignal
	byInstrument := make(map[string]evalResult, len(results))
	for _, res := range results {
		byInstrument[res.inst.ID] = res
		c.recordEvaluation(ctx, evalTime, res)
		if res.eval.Signal != nil {
			metrics.Signals.WithLabelValues("eligible").Inc()
			candidates = append(candidates, res.eval.Signal)
		} else {
			metrics.Signals.WithLabelValues("ineligible").Inc()
		}
	}

	selected := c.selector.Select(candidates)
	if selected == nil {
		c.recordSelection(ctx, evalTime, "", "NONE")
		metrics.Cycles.WithLabelValues("idle").Inc()
		return nil
	}
	c.recordSelection(ctx, evalTime, selected.InstrumentID, "SELECTED")
	c.logger.Info("signal selected",
		zap.String("symbol", selected.Symbol),
		zap.String("direction", string(selected.Direction)),
		zap.Float64("trend_strength", selected.TrendStrength),
		zap.Float64("vol_expansion", selected.VolExpansion))

	res := byInstrument[selected.InstrumentID]
	return c.enterPosition(ctx, selected, res)
}

func (c *CycleCoordinator) evaluateInstrument(ctx context.Context, inst *domain.Instrument) (evalResult, error) {
	bundle, err := c.instruments.GetActiveBundle(ctx, inst.ID)
	if err != nil {
		return evalResult{}, err
	}
	snap, err := c.indicators.GetSnapshot(ctx, inst.Symbol, bundle.ATRMALength)
	if err != nil {
		return evalResult{}, err
	}
	eval := c.signals.Classify(inst, snap.Price, snap, bundle)
	return evalResult{inst: inst, bundle: bundle, snap: snap, eval: eval}, nil
}

func (c *CycleCoordinator) enterPosition(ctx context.Context, sig *domain.EligibleSignal, res evalResult) error {
	equity, err := c.exchange.GetAccountEquity(ctx)
	if err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}
	metrics.EquityUSD.Set(equity.Total)

	plan := c.sizer.BuildPlan(sig, res.snap.Price, res.snap.ATRLTF, res.bundle.StopMultiplier, equity.Total, equity.Available)
	if plan == nil {
		c.logger.Warn("untradeable stop distance, skipping entry",
			zap.String("symbol", sig.Symbol),
			zap.Float64("atr", res.snap.ATRLTF),
			zap.Float64("stop_multiplier", res.bundle.StopMultiplier))
		metrics.Cycles.WithLabelValues("idle").Inc()
		return nil
	}
	plan.BundleID = res.bundle.ID

	prec, err := c.exchange.GetInstrumentPrecision(ctx, sig.Symbol)
	if err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}
	ApplyPrecision(plan, prec)
	if plan.Qty <= 0 {
		c.logger.Warn("plan quantity rounds to zero, skipping entry",
			zap.String("symbol", sig.Symbol), zap.Float64("step", prec.StepSize))
		metrics.Cycles.WithLabelValues("idle").Inc()
		return nil
	}
	if plan.CapitalConstrained {
		c.logger.Warn("sizing capped by available capital",
			zap.String("symbol", sig.Symbol),
			zap.Float64("margin", plan.MarginRequired),
			zap.Float64("realised_risk", plan.RiskAmount),
			zap.Float64("intended_risk", plan.EquityTotal*riskFraction))
	}

	if err := c.safety.PreTradeCheck(ctx, sig.Symbol); err != nil {
		c.logger.Error("pre-trade safety check failed", zap.Error(err))
		metrics.Cycles.WithLabelValues("skipped").Inc()
		return nil
	}

	// The PLANNED record lands before any order leaves the process.
	if err := c.trades.SaveTradePlan(ctx, plan); err != nil {
		metrics.Cycles.WithLabelValues("error").Inc()
		return err
	}

	result, err := c.executor.Execute(ctx, plan)
	if err != nil {
		c.logger.Error("trade execution failed",
			zap.String("symbol", plan.Symbol),
			zap.String("state", string(result.State)),
			zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return nil
	}

	metrics.Cycles.WithLabelValues("entered").Inc()
	c.notifier.TradeOpened(ctx, plan)
	return nil
}

// manageOpenPosition runs the regime-exit path: detect protective fills
// first, then evaluate regime invalidation against fresh indicators.
func (c *CycleCoordinator) manageOpenPosition(ctx context.Context, pos *domain.Position) {
	ps, err := c.exchange.GetPositionState(ctx, pos.Symbol)
	if err != nil {
		c.logger.Error("failed to read exchange position", zap.String("symbol", pos.Symbol), zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return
	}

	if ps.Qty == 0 {
		c.settleProtectiveFill(ctx, pos)
		return
	}

	bundle, err := c.instruments.GetActiveBundle(ctx, pos.InstrumentID)
	if err != nil {
		c.logger.Error("no active bundle for open position", zap.String("symbol", pos.Symbol), zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return
	}
	snap, err := c.indicators.GetSnapshot(ctx, pos.Symbol, bundle.ATRMALength)
	if err != nil {
		c.logger.Error("failed to build snapshot for open position", zap.String("symbol", pos.Symbol), zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return
	}
	price, err := c.exchange.GetCurrentPrice(ctx, pos.Symbol)
	if err != nil || price == 0 {
		price = snap.Price
	}
	funding, err := c.exchange.GetFundingRate(ctx, pos.Symbol)
	if err != nil {
		c.logger.Warn("failed to fetch funding rate, treating as neutral", zap.Error(err))
		funding = 0
	}

	reason, exit := c.exits.ShouldExit(pos, price, snap, bundle, funding)
	if !exit {
		metrics.Cycles.WithLabelValues("held").Inc()
		return
	}

	c.logger.Info("regime exit triggered",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("price", price))

	pos.Status = domain.PositionClosing
	if err := c.trades.UpdatePosition(ctx, pos); err != nil {
		c.logger.Error("failed to mark position closing", zap.Error(err))
	}

	ack, err := c.executor.ClosePosition(ctx, pos)
	if err != nil {
		// The close order is idempotent by client id; next cycle retries it.
		c.logger.Error("regime exit close failed, will retry next cycle", zap.Error(err))
		metrics.Cycles.WithLabelValues("error").Inc()
		return
	}

	exitPrice := price
	if ack.AvgPrice > 0 {
		exitPrice = ack.AvgPrice
	}
	c.closePositionRecord(ctx, pos, exitPrice, reason)
	metrics.Cycles.WithLabelValues("exited").Inc()
}

// settleProtectiveFill handles the exchange reporting a flat position while
// the local record is open: the stop or the target filled between cycles.
// Which one is inferred from the trade plan's protective prices.
func (c *CycleCoordinator) settleProtectiveFill(ctx context.Context, pos *domain.Position) {
	if err := c.exchange.CancelAllOrders(ctx, pos.Symbol); err != nil {
		c.logger.Warn("failed to cancel leftover protective order", zap.String("symbol", pos.Symbol), zap.Error(err))
	}

	reason := domain.ExitSL
	exitPrice := pos.EntryPrice
	if plan, err := c.trades.GetTradePlan(ctx, pos.TradePlanID); err == nil {
		price, perr := c.exchange.GetCurrentPrice(ctx, pos.Symbol)
		if perr != nil || price == 0 {
			price = plan.StopPrice
		}
		distStop := absDiff(price, plan.StopPrice)
		distTP := absDiff(price, plan.TargetPrice)
		if distTP < distStop {
			reason = domain.ExitTP
			exitPrice = plan.TargetPrice
		} else {
			exitPrice = plan.StopPrice
		}
	} else {
		c.logger.Error("trade plan missing for filled position", zap.String("plan", pos.TradePlanID), zap.Error(err))
	}

	c.logger.Info("protective order filled while position was unobserved",
		zap.String("symbol", pos.Symbol),
		zap.String("reason", string(reason)),
		zap.Float64("exit_price", exitPrice))
	c.closePositionRecord(ctx, pos, exitPrice, reason)
	metrics.Cycles.WithLabelValues("exited").Inc()
}

func (c *CycleCoordinator) closePositionRecord(ctx context.Context, pos *domain.Position, exitPrice float64, reason domain.ExitReason) {
	if pos.Direction == domain.DirectionLong {
		pos.RealizedPnL = (exitPrice - pos.EntryPrice) * pos.Qty
	} else {
		pos.RealizedPnL = (pos.EntryPrice - exitPrice) * pos.Qty
	}
	pos.Status = domain.PositionClosed
	pos.ExitPrice = exitPrice
	pos.ExitReason = reason
	pos.ClosedAt = time.Now().UTC()

	if err := c.trades.UpdatePosition(ctx, pos); err != nil {
		c.logger.Error("failed to persist closed position", zap.String("position", pos.ID), zap.Error(err))
	}
	metrics.ExitReasons.WithLabelValues(string(reason)).Inc()
	c.notifier.TradeClosed(ctx, pos)
}

func (c *CycleCoordinator) recordEvaluation(ctx context.Context, at time.Time, res evalResult) {
	ev := &domain.SignalEvaluation{
		ID:            uuid.NewString(),
		EvaluatedAt:   at,
		InstrumentID:  res.inst.ID,
		BundleID:      res.bundle.ID,
		Trend:         res.eval.Trend,
		VolGatePassed: res.eval.VolGatePassed,
		MomentumOK:    res.eval.MomentumOK,
		Eligible:      res.eval.Signal != nil,
		LiquidityRank: res.inst.LiquidityRank,
	}
	if sig := res.eval.Signal; sig != nil {
		ev.TrendStrength = sig.TrendStrength
		ev.VolExpansion = sig.VolExpansion
	}
	if err := c.trades.SaveSignalEvaluation(ctx, ev); err != nil {
		c.logger.Warn("failed to save signal evaluation", zap.Error(err))
	}
}

func (c *CycleCoordinator) recordSelection(ctx context.Context, at time.Time, instrumentID, decision string) {
	dec := &domain.SelectionDecision{
		ID:                   uuid.NewString(),
		EvaluatedAt:          at,
		SelectedInstrumentID: instrumentID,
		Decision:             decision,
	}
	if err := c.trades.SaveSelectionDecision(ctx, dec); err != nil {
		c.logger.Warn("failed to save selection decision", zap.Error(err))
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
