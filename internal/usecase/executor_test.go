package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/usecase"
)

func newExecFixture(ex *mockExchange) (*usecase.ExecutionOrchestrator, *memTradeRepo, *usecase.HaltGuard, *countingNotifier) {
	trades := newMemTradeRepo()
	state := &memStateRepo{}
	notifier := &countingNotifier{}
	halt := usecase.NewHaltGuard(state, notifier, zap.NewNop())
	exec := usecase.NewExecutionOrchestrator(ex, trades, halt, zap.NewNop(), "bot1")
	return exec, trades, halt, notifier
}

func plannedPlan(trades *memTradeRepo) *domain.TradePlan {
	plan := &domain.TradePlan{
		ID: "plan1", InstrumentID: "i-eth", Symbol: "ETHUSDT",
		Direction: domain.DirectionLong,
		EntryPrice: 3000, StopPrice: 2955, TargetPrice: 3090, Qty: 11.111,
		Status: domain.PlanPlanned,
	}
	trades.SaveTradePlan(context.Background(), plan)
	return plan
}

func TestClientOrderIDFormat(t *testing.T) {
	exec, _, _, _ := newExecFixture(newMockExchange())

	got := exec.ClientOrderID("plan1", domain.RoleStop, 1)
	if got != "bot1_plan1_STOP_1" {
		t.Errorf("ClientOrderID = %q, want bot1_plan1_STOP_1", got)
	}
	// Deterministic: same inputs, same id.
	if again := exec.ClientOrderID("plan1", domain.RoleStop, 1); again != got {
		t.Errorf("ClientOrderID not deterministic: %q vs %q", again, got)
	}
}

func TestExecuteHappyPath(t *testing.T) {
	ex := newMockExchange()
	exec, trades, halt, _ := newExecFixture(ex)
	plan := plannedPlan(trades)

	res, err := exec.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.State != usecase.StateProtected {
		t.Fatalf("State = %v, want PROTECTED", res.State)
	}
	if res.Position == nil || res.Position.Status != domain.PositionOpen {
		t.Fatalf("Position = %+v, want OPEN", res.Position)
	}

	if len(ex.MarketOrders) != 1 || ex.MarketOrders[0].ReduceOnly {
		t.Errorf("expected exactly one non-reduce-only entry, got %+v", ex.MarketOrders)
	}
	if len(ex.StopOrders) != 1 || ex.StopOrders[0].Side != domain.SideSell {
		t.Errorf("expected one SELL stop, got %+v", ex.StopOrders)
	}
	if len(ex.LimitOrders) != 1 || ex.LimitOrders[0].Side != domain.SideSell {
		t.Errorf("expected one SELL take-profit, got %+v", ex.LimitOrders)
	}

	if halted, _ := halt.Halted(); halted {
		t.Error("happy path must not halt")
	}
	if got, _ := trades.GetTradePlan(context.Background(), plan.ID); got.Status != domain.PlanFilled {
		t.Errorf("plan status = %v, want FILLED", got.Status)
	}

	// Entry fill must be on the audit trail before protection acks.
	if fills := trades.eventsFor(domain.RoleEntry, "FILL"); len(fills) != 1 {
		t.Errorf("entry FILL events = %d, want 1", len(fills))
	}
}

func TestExecuteEntryRejectedNoHalt(t *testing.T) {
	ex := newMockExchange()
	ex.MarketErr = errors.New("insufficient margin")
	exec, trades, halt, _ := newExecFixture(ex)
	plan := plannedPlan(trades)

	res, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error for rejected entry")
	}
	if res.State != usecase.StateEntrySubmitted {
		t.Errorf("State = %v, want ENTRY_SUBMITTED", res.State)
	}
	// No fill means no exposure: no emergency close, no halt.
	if ex.ReduceOnlyCloses != 0 {
		t.Errorf("ReduceOnlyCloses = %d, want 0", ex.ReduceOnlyCloses)
	}
	if halted, _ := halt.Halted(); halted {
		t.Error("rejected entry must not halt")
	}
	if got, _ := trades.GetTradePlan(context.Background(), plan.ID); got.Status != domain.PlanFailed {
		t.Errorf("plan status = %v, want FAILED", got.Status)
	}
}

// A filled entry whose stop order fails must be flattened with exactly one
// reduce-only close, have its surviving orders cancelled, and halt the
// system. It must never report PROTECTED.
func TestExecuteStopFailureFlattensAndHalts(t *testing.T) {
	ex := newMockExchange()
	ex.StopErr = errors.New("exchange rejected stop")
	exec, trades, halt, notifier := newExecFixture(ex)
	plan := plannedPlan(trades)

	res, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error for protection failure")
	}
	if res.State != usecase.StateHalted {
		t.Fatalf("State = %v, want HALTED", res.State)
	}

	if ex.ReduceOnlyCloses != 1 {
		t.Errorf("ReduceOnlyCloses = %d, want exactly 1", ex.ReduceOnlyCloses)
	}
	if ex.CancelAllCalls != 1 {
		t.Errorf("CancelAllCalls = %d, want exactly 1", ex.CancelAllCalls)
	}

	halted, reason := halt.Halted()
	if !halted {
		t.Fatal("expected system halt")
	}
	if !strings.HasPrefix(reason, "PROTECTION_FAILURE") {
		t.Errorf("halt reason = %q, want PROTECTION_FAILURE prefix", reason)
	}
	if len(notifier.Halts) != 1 {
		t.Errorf("halt notifications = %d, want 1", len(notifier.Halts))
	}

	if res.Position == nil || res.Position.Status != domain.PositionFailed {
		t.Fatalf("Position = %+v, want FAILED", res.Position)
	}
	if res.Position.ExitReason != domain.ExitSafetyHalt {
		t.Errorf("ExitReason = %v, want SAFETY_HALT", res.Position.ExitReason)
	}
}

func TestExecuteTPFailureAlsoHalts(t *testing.T) {
	ex := newMockExchange()
	ex.LimitErr = errors.New("exchange rejected tp")
	exec, trades, halt, _ := newExecFixture(ex)
	plan := plannedPlan(trades)

	res, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error for protection failure")
	}
	if res.State != usecase.StateHalted {
		t.Fatalf("State = %v, want HALTED", res.State)
	}
	if ex.ReduceOnlyCloses != 1 {
		t.Errorf("ReduceOnlyCloses = %d, want 1", ex.ReduceOnlyCloses)
	}
	if halted, _ := halt.Halted(); !halted {
		t.Error("expected system halt")
	}
}

// The halt fires even when the emergency close itself is rejected.
func TestExecuteHaltSurvivesFailedEmergencyClose(t *testing.T) {
	ex := newMockExchange()
	ex.StopErr = errors.New("stop rejected")
	exec, trades, halt, _ := newExecFixture(ex)
	plan := plannedPlan(trades)

	// Entry fills, then every later market order (the emergency close
	// included) is rejected.
	entryDone := false
	wrapped := &failAfterFirstMarket{mockExchange: ex, entryDone: &entryDone}
	exec = usecase.NewExecutionOrchestrator(wrapped, trades, halt, zap.NewNop(), "bot1")

	res, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.State != usecase.StateHalted {
		t.Fatalf("State = %v, want HALTED", res.State)
	}
	if halted, _ := halt.Halted(); !halted {
		t.Error("halt must fire even when the emergency close fails")
	}
}

// failAfterFirstMarket lets the entry order through and rejects every
// subsequent market order, so the emergency close fails.
type failAfterFirstMarket struct {
	*mockExchange
	entryDone *bool
}

func (f *failAfterFirstMarket) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.OrderAck, error) {
	if *f.entryDone {
		return nil, errors.New("market order rejected")
	}
	*f.entryDone = true
	return f.mockExchange.SubmitMarketOrder(ctx, symbol, side, qty, clientID, reduceOnly)
}

func TestExecuteSlotAlreadyTaken(t *testing.T) {
	ex := newMockExchange()
	exec, trades, halt, _ := newExecFixture(ex)

	// Occupy the slot with a live position.
	trades.ClaimPositionSlot(context.Background(), &domain.Position{
		ID: "pos0", Symbol: "BTCUSDT", Status: domain.PositionOpen,
	})
	plan := plannedPlan(trades)

	res, err := exec.Execute(context.Background(), plan)
	if err == nil {
		t.Fatal("expected error")
	}
	// The entry already filled, so a blocked slot is a protection failure:
	// flatten and halt rather than run an untracked position.
	if res.State != usecase.StateHalted {
		t.Fatalf("State = %v, want HALTED", res.State)
	}
	if ex.ReduceOnlyCloses != 1 {
		t.Errorf("ReduceOnlyCloses = %d, want 1", ex.ReduceOnlyCloses)
	}
	if halted, _ := halt.Halted(); !halted {
		t.Error("expected halt")
	}
}

func TestClosePosition(t *testing.T) {
	ex := newMockExchange()
	ex.Price = 3050
	exec, trades, _, _ := newExecFixture(ex)

	pos := &domain.Position{
		ID: "pos1", TradePlanID: "plan1", Symbol: "ETHUSDT",
		Direction: domain.DirectionLong, EntryPrice: 3000, Qty: 11.111,
		Status: domain.PositionOpen,
	}

	ack, err := exec.ClosePosition(context.Background(), pos)
	if err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}
	if ack.AvgPrice != 3050 {
		t.Errorf("AvgPrice = %v, want 3050", ack.AvgPrice)
	}
	if ex.ReduceOnlyCloses != 1 {
		t.Errorf("ReduceOnlyCloses = %d, want 1", ex.ReduceOnlyCloses)
	}
	if ex.CancelAllCalls != 1 {
		t.Errorf("CancelAllCalls = %d, want 1", ex.CancelAllCalls)
	}
	if len(ex.MarketOrders) != 1 || ex.MarketOrders[0].Side != domain.SideSell {
		t.Errorf("close side = %+v, want SELL", ex.MarketOrders)
	}
	if fills := trades.eventsFor(domain.RoleClose, "FILL"); len(fills) != 1 {
		t.Errorf("close FILL events = %d, want 1", len(fills))
	}
}
