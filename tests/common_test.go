package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_momentum_bot/internal/usecase"
)

// MockExchange is a stateful venue: market fills move the reported position,
// reduce-only fills flatten it. Error fields fail the matching call.
type MockExchange struct {
	mu sync.Mutex

	Price     float64
	Funding   float64
	Equity    domain.AccountEquity
	Precision domain.Precision
	Position  domain.PositionState
	Positions []*domain.PositionState

	MarketErr error
	StopErr   error
	LimitErr  error

	MarketCalls    int
	StopCalls      int
	LimitCalls     int
	CancelAllCalls int
	ReduceCloses   int
}

func NewMockExchange() *MockExchange {
	return &MockExchange{
		Price:     3100,
		Equity:    domain.AccountEquity{Total: 100000, Available: 100000},
		Precision: domain.Precision{TickSize: 0.01, StepSize: 0.001},
		Position:  domain.PositionState{Leverage: 1, MarginType: "isolated"},
	}
}

func (m *MockExchange) SetLeverageAndIsolation(ctx context.Context, symbol string) error {
	return nil
}

func (m *MockExchange) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarketErr != nil {
		return nil, m.MarketErr
	}
	m.MarketCalls++
	if reduceOnly {
		m.ReduceCloses++
		m.Position.Qty = 0
		m.Position.EntryPrice = 0
	} else {
		signed := qty
		if side == domain.SideSell {
			signed = -qty
		}
		m.Position = domain.PositionState{
			Symbol: symbol, Qty: signed, EntryPrice: m.Price,
			Leverage: 1, MarginType: "isolated",
		}
	}
	return &domain.OrderAck{
		OrderID: "ex-" + clientID, ClientOrderID: clientID,
		Status: "FILLED", AvgPrice: m.Price, ExecutedQty: qty,
	}, nil
}

func (m *MockExchange) SubmitStopOrder(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, qty float64, clientID string) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErr != nil {
		return nil, m.StopErr
	}
	m.StopCalls++
	return &domain.OrderAck{OrderID: "ex-" + clientID, ClientOrderID: clientID, Status: "NEW"}, nil
}

func (m *MockExchange) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, qty float64, clientID string) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LimitErr != nil {
		return nil, m.LimitErr
	}
	m.LimitCalls++
	return &domain.OrderAck{OrderID: "ex-" + clientID, ClientOrderID: clientID, Status: "NEW"}, nil
}

func (m *MockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelAllCalls++
	return nil
}

func (m *MockExchange) GetPositionState(ctx context.Context, symbol string) (*domain.PositionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps := m.Position
	ps.Symbol = symbol
	return &ps, nil
}

func (m *MockExchange) GetOpenPositions(ctx context.Context) ([]*domain.PositionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Positions, nil
}

func (m *MockExchange) GetAccountEquity(ctx context.Context) (*domain.AccountEquity, error) {
	eq := m.Equity
	return &eq, nil
}

func (m *MockExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return m.Funding, nil
}

func (m *MockExchange) GetInstrumentPrecision(ctx context.Context, symbol string) (*domain.Precision, error) {
	p := m.Precision
	return &p, nil
}

func (m *MockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (m *MockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Price, nil
}

// MockIndicators serves canned snapshots keyed by symbol.
type MockIndicators struct {
	Snapshots map[string]*domain.IndicatorSnapshot
}

func (m *MockIndicators) GetSnapshot(ctx context.Context, symbol string, atrMALength int) (*domain.IndicatorSnapshot, error) {
	snap, ok := m.Snapshots[symbol]
	if !ok {
		return nil, context.Canceled
	}
	cp := *snap
	return &cp, nil
}

type RecordingNotifier struct {
	mu     sync.Mutex
	Opened int
	Closed int
	Halts  []string
}

func (n *RecordingNotifier) TradeOpened(ctx context.Context, plan *domain.TradePlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Opened++
}

func (n *RecordingNotifier) TradeClosed(ctx context.Context, pos *domain.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Closed++
}

func (n *RecordingNotifier) Halted(ctx context.Context, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Halts = append(n.Halts, reason)
}

// Bot wires the full stack over a real sqlite store and the mock venue.
type Bot struct {
	Store       *storage.SQLiteStore
	Exchange    *MockExchange
	Indicators  *MockIndicators
	Notifier    *RecordingNotifier
	Halt        *usecase.HaltGuard
	Safety      *usecase.SafetySupervisor
	Executor    *usecase.ExecutionOrchestrator
	Coordinator *usecase.CycleCoordinator
}

func NewBot(t *testing.T) *Bot {
	t.Helper()

	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ex := NewMockExchange()
	notifier := &RecordingNotifier{}
	logger := zap.NewNop()

	halt := usecase.NewHaltGuard(store, notifier, logger)
	safety := usecase.NewSafetySupervisor(ex, halt, logger)
	observed := usecase.NewObservedExchange(ex, safety)
	executor := usecase.NewExecutionOrchestrator(observed, store, halt, logger, "bot1")
	indicators := &MockIndicators{Snapshots: map[string]*domain.IndicatorSnapshot{}}
	coordinator := usecase.NewCycleCoordinator(
		store, store, store, observed, indicators,
		safety, executor, halt, notifier, logger,
	)

	return &Bot{
		Store: store, Exchange: ex, Indicators: indicators, Notifier: notifier,
		Halt: halt, Safety: safety, Executor: executor, Coordinator: coordinator,
	}
}

// SeedInstrument registers one active instrument with an ATR-above-MA bundle
// and returns the instrument id.
func (b *Bot) SeedInstrument(t *testing.T, symbol string, rank int) string {
	t.Helper()
	ctx := context.Background()

	inst := &domain.Instrument{
		ID: "i-" + symbol, Symbol: symbol, QuoteAsset: "USDT",
		LiquidityRank: rank, IsActive: true, CreatedAt: time.Now().UTC(),
	}
	if err := b.Store.SaveInstrument(ctx, inst); err != nil {
		t.Fatalf("save instrument: %v", err)
	}
	bundle := &domain.ParameterBundle{
		ID: "b-" + symbol, InstrumentID: inst.ID, Version: 1,
		StopMultiplier: 1.5, VolGateMode: domain.VolGateATRAboveMA,
		ATRMALength: 20, RSIReference: 55,
		IsActive: true, CreatedAt: time.Now().UTC(),
	}
	if err := b.Store.SaveBundle(ctx, bundle); err != nil {
		t.Fatalf("save bundle: %v", err)
	}
	return inst.ID
}

// BullishSnapshot is a long-eligible snapshot: price one hundred points above
// trend, expanding volatility, momentum confirming.
func BullishSnapshot(symbol string) *domain.IndicatorSnapshot {
	return &domain.IndicatorSnapshot{
		Symbol: symbol, At: time.Now().UTC(), Price: 3100,
		EMA200HTF: 3000, ATRHTF: 40,
		RSILTF: 60, ATRLTF: 30, ATRMALTF: 25, ATRPercentileLTF: 80,
	}
}

func (b *Bot) RunCycle(t *testing.T) {
	t.Helper()
	if err := b.Coordinator.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
}
