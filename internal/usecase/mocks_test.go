package usecase_test

import (
	"context"
	"errors"
	"sync"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

var errNoSnapshot = errors.New("no snapshot for symbol")

// mockExchange is a scriptable in-memory gateway. Error fields make the
// corresponding call fail; counters record what was submitted.
type mockExchange struct {
	mu sync.Mutex

	Price     float64
	Funding   float64
	Equity    domain.AccountEquity
	Precision domain.Precision
	Position  domain.PositionState
	Positions []*domain.PositionState

	LeverageErr  error
	MarketErr    error
	StopErr      error
	LimitErr     error
	CancelErr    error
	PositionErr  error
	EquityErr    error
	PrecisionErr error

	MarketOrders     []marketOrder
	StopOrders       []protectiveOrder
	LimitOrders      []protectiveOrder
	CancelAllCalls   int
	ReduceOnlyCloses int
}

type marketOrder struct {
	Symbol     string
	Side       domain.OrderSide
	Qty        float64
	ClientID   string
	ReduceOnly bool
}

type protectiveOrder struct {
	Symbol   string
	Side     domain.OrderSide
	Price    float64
	Qty      float64
	ClientID string
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		Price:     3000,
		Equity:    domain.AccountEquity{Total: 100000, Available: 100000},
		Precision: domain.Precision{TickSize: 0.01, StepSize: 0.001},
		Position:  domain.PositionState{Leverage: 1, MarginType: "isolated"},
	}
}

func (m *mockExchange) SetLeverageAndIsolation(ctx context.Context, symbol string) error {
	return m.LeverageErr
}

func (m *mockExchange) SubmitMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64, clientID string, reduceOnly bool) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarketErr != nil {
		return nil, m.MarketErr
	}
	m.MarketOrders = append(m.MarketOrders, marketOrder{symbol, side, qty, clientID, reduceOnly})
	if reduceOnly {
		m.ReduceOnlyCloses++
	}
	return &domain.OrderAck{OrderID: "ex-" + clientID, ClientOrderID: clientID, Status: "FILLED", AvgPrice: m.Price, ExecutedQty: qty}, nil
}

func (m *mockExchange) SubmitStopOrder(ctx context.Context, symbol string, side domain.OrderSide, stopPrice, qty float64, clientID string) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StopErr != nil {
		return nil, m.StopErr
	}
	m.StopOrders = append(m.StopOrders, protectiveOrder{symbol, side, stopPrice, qty, clientID})
	return &domain.OrderAck{OrderID: "ex-" + clientID, ClientOrderID: clientID, Status: "NEW"}, nil
}

func (m *mockExchange) SubmitLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, qty float64, clientID string) (*domain.OrderAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LimitErr != nil {
		return nil, m.LimitErr
	}
	m.LimitOrders = append(m.LimitOrders, protectiveOrder{symbol, side, price, qty, clientID})
	return &domain.OrderAck{OrderID: "ex-" + clientID, ClientOrderID: clientID, Status: "NEW"}, nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.CancelAllCalls++
	return nil
}

func (m *mockExchange) GetPositionState(ctx context.Context, symbol string) (*domain.PositionState, error) {
	if m.PositionErr != nil {
		return nil, m.PositionErr
	}
	ps := m.Position
	ps.Symbol = symbol
	return &ps, nil
}

func (m *mockExchange) GetOpenPositions(ctx context.Context) ([]*domain.PositionState, error) {
	return m.Positions, nil
}

func (m *mockExchange) GetAccountEquity(ctx context.Context) (*domain.AccountEquity, error) {
	if m.EquityErr != nil {
		return nil, m.EquityErr
	}
	eq := m.Equity
	return &eq, nil
}

func (m *mockExchange) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return m.Funding, nil
}

func (m *mockExchange) GetInstrumentPrecision(ctx context.Context, symbol string) (*domain.Precision, error) {
	if m.PrecisionErr != nil {
		return nil, m.PrecisionErr
	}
	p := m.Precision
	return &p, nil
}

func (m *mockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return nil, nil
}

func (m *mockExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return m.Price, nil
}

// memTradeRepo is an in-memory TradeRepository enforcing the single
// open-position slot the way the real storage does.
type memTradeRepo struct {
	mu          sync.Mutex
	Plans       map[string]*domain.TradePlan
	Positions   map[string]*domain.Position
	Events      []*domain.OrderEvent
	Evaluations []*domain.SignalEvaluation
	Decisions   []*domain.SelectionDecision
}

func newMemTradeRepo() *memTradeRepo {
	return &memTradeRepo{
		Plans:     make(map[string]*domain.TradePlan),
		Positions: make(map[string]*domain.Position),
	}
}

func (r *memTradeRepo) SaveTradePlan(ctx context.Context, plan *domain.TradePlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *plan
	r.Plans[plan.ID] = &cp
	return nil
}

func (r *memTradeRepo) UpdateTradePlanStatus(ctx context.Context, id string, status domain.PlanStatus, failureReason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.Plans[id]; ok {
		p.Status = status
		p.FailureReason = failureReason
	}
	return nil
}

func (r *memTradeRepo) GetTradePlan(ctx context.Context, id string) (*domain.TradePlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.Plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (r *memTradeRepo) ListTradePlans(ctx context.Context, limit int) ([]*domain.TradePlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.TradePlan, 0, len(r.Plans))
	for _, p := range r.Plans {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTradeRepo) ClaimPositionSlot(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Positions {
		if !p.Status.IsTerminal() {
			return domain.ErrPositionSlotTaken
		}
	}
	cp := *pos
	r.Positions[pos.ID] = &cp
	return nil
}

func (r *memTradeRepo) UpdatePosition(ctx context.Context, pos *domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *pos
	r.Positions[pos.ID] = &cp
	return nil
}

func (r *memTradeRepo) GetOpenPosition(ctx context.Context) (*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.Positions {
		if !p.Status.IsTerminal() {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTradeRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Position, 0, len(r.Positions))
	for _, p := range r.Positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memTradeRepo) SaveOrderEvent(ctx context.Context, ev *domain.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ev
	r.Events = append(r.Events, &cp)
	return nil
}

func (r *memTradeRepo) SaveSignalEvaluation(ctx context.Context, ev *domain.SignalEvaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *ev
	r.Evaluations = append(r.Evaluations, &cp)
	return nil
}

func (r *memTradeRepo) SaveSelectionDecision(ctx context.Context, dec *domain.SelectionDecision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *dec
	r.Decisions = append(r.Decisions, &cp)
	return nil
}

func (r *memTradeRepo) eventsFor(role domain.OrderRole, eventType string) []*domain.OrderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.OrderEvent
	for _, ev := range r.Events {
		if ev.Role == role && ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// memStateRepo is an in-memory SystemStateRepository.
type memStateRepo struct {
	mu          sync.Mutex
	Halt        domain.HaltState
	Cooldown    domain.CooldownState
	CooldownErr error
}

func (r *memStateRepo) GetHaltState(ctx context.Context) (*domain.HaltState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.Halt
	return &hs, nil
}

func (r *memStateRepo) SetHalt(ctx context.Context, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Halt.Halted = true
	r.Halt.Reason = reason
	return nil
}

func (r *memStateRepo) ClearHalt(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Halt = domain.HaltState{}
	return nil
}

func (r *memStateRepo) GetCooldownState(ctx context.Context) (*domain.CooldownState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CooldownErr != nil {
		return nil, r.CooldownErr
	}
	cd := r.Cooldown
	return &cd, nil
}

// memInstrumentRepo serves a fixed universe.
type memInstrumentRepo struct {
	Instruments []*domain.Instrument
	Bundles     map[string]*domain.ParameterBundle // by instrument id
}

func (r *memInstrumentRepo) ListActiveInstruments(ctx context.Context) ([]*domain.Instrument, error) {
	return r.Instruments, nil
}

func (r *memInstrumentRepo) GetActiveBundle(ctx context.Context, instrumentID string) (*domain.ParameterBundle, error) {
	if b, ok := r.Bundles[instrumentID]; ok {
		return b, nil
	}
	return nil, domain.ErrNoActiveBundle
}

func (r *memInstrumentRepo) SaveInstrument(ctx context.Context, inst *domain.Instrument) error {
	return nil
}

func (r *memInstrumentRepo) SaveBundle(ctx context.Context, bundle *domain.ParameterBundle) error {
	return nil
}

// mockIndicators returns canned snapshots per symbol.
type mockIndicators struct {
	Snapshots map[string]*domain.IndicatorSnapshot
	Err       error
}

func (m *mockIndicators) GetSnapshot(ctx context.Context, symbol string, atrMALength int) (*domain.IndicatorSnapshot, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if snap, ok := m.Snapshots[symbol]; ok {
		return snap, nil
	}
	return nil, errNoSnapshot
}

// countingNotifier records alert deliveries.
type countingNotifier struct {
	mu     sync.Mutex
	Opened int
	Closed int
	Halts  []string
}

func (n *countingNotifier) TradeOpened(ctx context.Context, plan *domain.TradePlan) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Opened++
}

func (n *countingNotifier) TradeClosed(ctx context.Context, pos *domain.Position) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Closed++
}

func (n *countingNotifier) Halted(ctx context.Context, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Halts = append(n.Halts, reason)
}
