package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/metrics"
)

// ExecState tracks the orchestrator through the entry-protection protocol.
type ExecState string

const (
	StatePlanned          ExecState = "PLANNED"
	StateEntrySubmitted   ExecState = "ENTRY_SUBMITTED"
	StateEntryFilled      ExecState = "ENTRY_FILLED"
	StateProtected        ExecState = "PROTECTED"
	StateProtectionFailed ExecState = "PROTECTION_FAILED"
	StateEmergencyClosing ExecState = "EMERGENCY_CLOSING"
	StateHalted           ExecState = "HALTED"
)

// ExecResult reports where the protocol ended and the position it produced,
// if any.
type ExecResult struct {
	State    ExecState
	Position *domain.Position
}

// ExecutionOrchestrator drives the ENTRY→PROTECT state machine. Its one
// non-negotiable invariant: a filled entry is never left standing without
// both a live stop and a live take-profit. If either protective order fails
// the position is flattened with a reduce-only market order, the surviving
// protective order is cancelled, and the system halts - unconditionally, even
// if the emergency close itself fails.
type ExecutionOrchestrator struct {
	exchange    domain.Exchange
	trades      domain.TradeRepository
	halt        *HaltGuard
	logger      *zap.Logger
	botID       string
	callTimeout time.Duration
}

func NewExecutionOrchestrator(exchange domain.Exchange, trades domain.TradeRepository, halt *HaltGuard, logger *zap.Logger, botID string) *ExecutionOrchestrator {
	return &ExecutionOrchestrator{
		exchange:    exchange,
		trades:      trades,
		halt:        halt,
		logger:      logger,
		botID:       botID,
		callTimeout: 15 * time.Second,
	}
}

// ClientOrderID builds the deterministic idempotency key for one order. A
// retried submission after a crash carries the same id and is recognized by
// the exchange as the same order.
func (o *ExecutionOrchestrator) ClientOrderID(planID string, role domain.OrderRole, attempt int) string {
	return fmt.Sprintf("%s_%s_%s_%d", o.botID, planID, role, attempt)
}

func (o *ExecutionOrchestrator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *ExecutionOrchestrator) recordEvent(ctx context.Context, ev *domain.OrderEvent) error {
	ev.At = time.Now().UTC()
	if err := o.trades.SaveOrderEvent(ctx, ev); err != nil {
		o.logger.Error("failed to record order event",
			zap.String("plan", ev.TradePlanID), zap.String("role", string(ev.Role)), zap.Error(err))
		return err
	}
	return nil
}

// Execute runs the full entry protocol for a persisted PLANNED trade plan.
func (o *ExecutionOrchestrator) Execute(ctx context.Context, plan *domain.TradePlan) (ExecResult, error) {
	state := StatePlanned

	// Pre-flight: force 1x isolated before any capital is committed. Failure
	// here is cheap - no order exists yet, no halt.
	preCtx, cancel := o.withTimeout(ctx)
	err := o.exchange.SetLeverageAndIsolation(preCtx, plan.Symbol)
	cancel()
	if err != nil {
		o.failPlan(ctx, plan, "preflight: "+err.Error())
		return ExecResult{State: state}, fmt.Errorf("pre-flight for %s: %w", plan.Symbol, err)
	}

	// Entry. The SUBMITTED transition is recorded before the exchange call so
	// a crash in between leaves a durable trace for the reconciler.
	entryID := o.ClientOrderID(plan.ID, domain.RoleEntry, 1)
	if err := o.trades.UpdateTradePlanStatus(ctx, plan.ID, domain.PlanSubmitted, ""); err != nil {
		return ExecResult{State: state}, fmt.Errorf("recording plan submission: %w", err)
	}
	if err := o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: plan.ID, Role: domain.RoleEntry, ClientOrderID: entryID,
		EventType: "SUBMITTED", Price: plan.EntryPrice, Qty: plan.Qty,
	}); err != nil {
		o.failPlan(ctx, plan, "audit write failed before entry")
		return ExecResult{State: state}, err
	}
	state = StateEntrySubmitted

	entryCtx, cancel := o.withTimeout(ctx)
	ack, err := o.exchange.SubmitMarketOrder(entryCtx, plan.Symbol, plan.Direction.EntrySide(), plan.Qty, entryID, false)
	cancel()
	if err != nil {
		metrics.Orders.WithLabelValues("entry", "rejected").Inc()
		o.recordEvent(ctx, &domain.OrderEvent{
			TradePlanID: plan.ID, Role: domain.RoleEntry, ClientOrderID: entryID,
			EventType: "REJECTED", Note: err.Error(),
		})
		o.failPlan(ctx, plan, "entry rejected: "+err.Error())
		return ExecResult{State: state}, fmt.Errorf("entry order for %s: %w", plan.Symbol, err)
	}
	metrics.Orders.WithLabelValues("entry", "filled").Inc()

	entryPrice := ack.AvgPrice
	if entryPrice == 0 {
		entryPrice = plan.EntryPrice
	}
	o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: plan.ID, Role: domain.RoleEntry, ClientOrderID: entryID,
		ExchangeOrderID: ack.OrderID, EventType: "FILL", Price: entryPrice, Qty: plan.Qty,
	})
	if err := o.trades.UpdateTradePlanStatus(ctx, plan.ID, domain.PlanFilled, ""); err != nil {
		o.logger.Error("failed to mark plan filled", zap.String("plan", plan.ID), zap.Error(err))
	}
	plan.Status = domain.PlanFilled
	state = StateEntryFilled

	pos := &domain.Position{
		ID:           uuid.NewString(),
		TradePlanID:  plan.ID,
		InstrumentID: plan.InstrumentID,
		Symbol:       plan.Symbol,
		Direction:    plan.Direction,
		EntryPrice:   entryPrice,
		Qty:          plan.Qty,
		Status:       domain.PositionOpening,
		OpenedAt:     time.Now().UTC(),
	}
	if err := o.trades.ClaimPositionSlot(ctx, pos); err != nil {
		// Filled entry with no position slot is as bad as a failed protective
		// order: flatten and halt.
		o.logger.Error("position slot claim failed after fill", zap.Error(err))
		return o.protectionFailure(ctx, plan, pos, fmt.Errorf("claiming position slot: %w", err))
	}

	// Protection: stop and take-profit submitted concurrently. Both must
	// succeed to reach PROTECTED.
	stopID := o.ClientOrderID(plan.ID, domain.RoleStop, 1)
	tpID := o.ClientOrderID(plan.ID, domain.RoleTP, 1)
	o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: plan.ID, Role: domain.RoleStop, ClientOrderID: stopID,
		EventType: "SUBMITTED", Price: plan.StopPrice, Qty: plan.Qty,
	})
	o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: plan.ID, Role: domain.RoleTP, ClientOrderID: tpID,
		EventType: "SUBMITTED", Price: plan.TargetPrice, Qty: plan.Qty,
	})

	closeSide := plan.Direction.CloseSide()
	stopCh := make(chan error, 1)
	tpCh := make(chan error, 1)
	var stopAck, tpAck *domain.OrderAck

	go func() {
		cctx, cancel := o.withTimeout(ctx)
		defer cancel()
		a, err := o.exchange.SubmitStopOrder(cctx, plan.Symbol, closeSide, plan.StopPrice, plan.Qty, stopID)
		stopAck = a
		stopCh <- err
	}()
	go func() {
		cctx, cancel := o.withTimeout(ctx)
		defer cancel()
		a, err := o.exchange.SubmitLimitOrder(cctx, plan.Symbol, closeSide, plan.TargetPrice, plan.Qty, tpID)
		tpAck = a
		tpCh <- err
	}()

	stopErr := <-stopCh
	tpErr := <-tpCh

	if stopErr == nil {
		metrics.Orders.WithLabelValues("stop", "placed").Inc()
		ev := &domain.OrderEvent{TradePlanID: plan.ID, Role: domain.RoleStop, ClientOrderID: stopID, EventType: "ACK", Price: plan.StopPrice, Qty: plan.Qty}
		if stopAck != nil {
			ev.ExchangeOrderID = stopAck.OrderID
		}
		o.recordEvent(ctx, ev)
	} else {
		metrics.Orders.WithLabelValues("stop", "rejected").Inc()
		o.recordEvent(ctx, &domain.OrderEvent{TradePlanID: plan.ID, Role: domain.RoleStop, ClientOrderID: stopID, EventType: "REJECTED", Note: stopErr.Error()})
	}
	if tpErr == nil {
		metrics.Orders.WithLabelValues("tp", "placed").Inc()
		ev := &domain.OrderEvent{TradePlanID: plan.ID, Role: domain.RoleTP, ClientOrderID: tpID, EventType: "ACK", Price: plan.TargetPrice, Qty: plan.Qty}
		if tpAck != nil {
			ev.ExchangeOrderID = tpAck.OrderID
		}
		o.recordEvent(ctx, ev)
	} else {
		metrics.Orders.WithLabelValues("tp", "rejected").Inc()
		o.recordEvent(ctx, &domain.OrderEvent{TradePlanID: plan.ID, Role: domain.RoleTP, ClientOrderID: tpID, EventType: "REJECTED", Note: tpErr.Error()})
	}

	if stopErr != nil || tpErr != nil {
		err := stopErr
		if err == nil {
			err = tpErr
		}
		return o.protectionFailure(ctx, plan, pos, err)
	}

	pos.Status = domain.PositionOpen
	if err := o.trades.UpdatePosition(ctx, pos); err != nil {
		o.logger.Error("failed to mark position open", zap.String("position", pos.ID), zap.Error(err))
	}
	state = StateProtected

	o.logger.Info("position protected",
		zap.String("symbol", plan.Symbol),
		zap.String("direction", string(plan.Direction)),
		zap.Float64("entry", entryPrice),
		zap.Float64("stop", plan.StopPrice),
		zap.Float64("target", plan.TargetPrice),
		zap.Float64("qty", plan.Qty))

	return ExecResult{State: state, Position: pos}, nil
}

// protectionFailure flattens a filled but unprotected entry and halts. The
// emergency close runs on a context detached from cancellation: a halt raised
// mid-cycle must not abort it.
func (o *ExecutionOrchestrator) protectionFailure(ctx context.Context, plan *domain.TradePlan, pos *domain.Position, cause error) (ExecResult, error) {
	o.logger.Error("PROTECTION GUARANTEE VIOLATED, flattening position",
		zap.String("symbol", plan.Symbol), zap.Error(cause))

	detached := context.WithoutCancel(ctx)
	closeID := o.ClientOrderID(plan.ID, domain.RoleClose, 1)
	o.recordEvent(detached, &domain.OrderEvent{
		TradePlanID: plan.ID, Role: domain.RoleClose, ClientOrderID: closeID,
		EventType: "SUBMITTED", Qty: plan.Qty, Note: "emergency close",
	})

	closeCtx, cancel := o.withTimeout(detached)
	_, closeErr := o.exchange.SubmitMarketOrder(closeCtx, plan.Symbol, plan.Direction.CloseSide(), plan.Qty, closeID, true)
	cancel()
	if closeErr != nil {
		metrics.Orders.WithLabelValues("close", "rejected").Inc()
		o.recordEvent(detached, &domain.OrderEvent{
			TradePlanID: plan.ID, Role: domain.RoleClose, ClientOrderID: closeID,
			EventType: "REJECTED", Note: closeErr.Error(),
		})
		o.logger.Error("EMERGENCY CLOSE FAILED - MANUAL INTERVENTION REQUIRED",
			zap.String("symbol", plan.Symbol), zap.Error(closeErr))
	} else {
		metrics.Orders.WithLabelValues("close", "filled").Inc()
		o.recordEvent(detached, &domain.OrderEvent{
			TradePlanID: plan.ID, Role: domain.RoleClose, ClientOrderID: closeID,
			EventType: "FILL", Qty: plan.Qty,
		})
	}

	cancelCtx, cancel := o.withTimeout(detached)
	if err := o.exchange.CancelAllOrders(cancelCtx, plan.Symbol); err != nil {
		o.logger.Error("failed to cancel surviving protective orders",
			zap.String("symbol", plan.Symbol), zap.Error(err))
	}
	cancel()

	if pos != nil {
		pos.Status = domain.PositionFailed
		pos.ExitReason = domain.ExitSafetyHalt
		pos.ClosedAt = time.Now().UTC()
		if err := o.trades.UpdatePosition(detached, pos); err != nil {
			o.logger.Error("failed to mark position failed", zap.Error(err))
		}
	}

	// The halt fires regardless of how the close went.
	o.halt.Raise(detached, "PROTECTION_FAILURE: "+cause.Error())

	return ExecResult{State: StateHalted, Position: pos},
		fmt.Errorf("protection failure on %s: %w", plan.Symbol, cause)
}

// ClosePosition submits the reduce-only market order that exits an open
// position, then clears its protective orders.
func (o *ExecutionOrchestrator) ClosePosition(ctx context.Context, pos *domain.Position) (*domain.OrderAck, error) {
	closeID := o.ClientOrderID(pos.TradePlanID, domain.RoleClose, 1)
	o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: pos.TradePlanID, Role: domain.RoleClose, ClientOrderID: closeID,
		EventType: "SUBMITTED", Qty: pos.Qty,
	})

	closeCtx, cancel := o.withTimeout(ctx)
	ack, err := o.exchange.SubmitMarketOrder(closeCtx, pos.Symbol, pos.Direction.CloseSide(), pos.Qty, closeID, true)
	cancel()
	if err != nil {
		metrics.Orders.WithLabelValues("close", "rejected").Inc()
		o.recordEvent(ctx, &domain.OrderEvent{
			TradePlanID: pos.TradePlanID, Role: domain.RoleClose, ClientOrderID: closeID,
			EventType: "REJECTED", Note: err.Error(),
		})
		return nil, fmt.Errorf("close order for %s: %w", pos.Symbol, err)
	}
	metrics.Orders.WithLabelValues("close", "filled").Inc()
	o.recordEvent(ctx, &domain.OrderEvent{
		TradePlanID: pos.TradePlanID, Role: domain.RoleClose, ClientOrderID: closeID,
		ExchangeOrderID: ack.OrderID, EventType: "FILL", Price: ack.AvgPrice, Qty: pos.Qty,
	})

	cancelCtx, cancel := o.withTimeout(ctx)
	if err := o.exchange.CancelAllOrders(cancelCtx, pos.Symbol); err != nil {
		o.logger.Warn("failed to cancel protective orders after close",
			zap.String("symbol", pos.Symbol), zap.Error(err))
	}
	cancel()

	return ack, nil
}

func (o *ExecutionOrchestrator) failPlan(ctx context.Context, plan *domain.TradePlan, reason string) {
	plan.Status = domain.PlanFailed
	plan.FailureReason = reason
	if err := o.trades.UpdateTradePlanStatus(ctx, plan.ID, domain.PlanFailed, reason); err != nil {
		o.logger.Error("failed to mark plan failed", zap.String("plan", plan.ID), zap.Error(err))
	}
}
