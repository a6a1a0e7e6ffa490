package domain

import "context"

// OrderAck is the exchange acknowledgement of a submitted order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// PositionState is the exchange-reported state of one symbol's position.
// Qty is signed: positive long, negative short, zero flat.
type PositionState struct {
	Symbol        string
	Qty           float64
	EntryPrice    float64
	Leverage      int
	MarginType    string // "isolated" or "cross"
	UnrealizedPnL float64
}

// AccountEquity is the futures account balance snapshot.
type AccountEquity struct {
	Total     float64
	Available float64
}

// Precision holds the exchange increments orders must be rounded to.
type Precision struct {
	TickSize float64
	StepSize float64
}

type Candle struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// Exchange defines the gateway to the derivatives venue. All mutating calls
// take a caller-supplied client order id, which the venue treats as an
// idempotency key: re-submitting with the same id is recognized as the same
// order, not duplicated.
type Exchange interface {
	SetLeverageAndIsolation(ctx context.Context, symbol string) error
	SubmitMarketOrder(ctx context.Context, symbol string, side OrderSide, qty float64, clientID string, reduceOnly bool) (*OrderAck, error)
	SubmitStopOrder(ctx context.Context, symbol string, side OrderSide, stopPrice, qty float64, clientID string) (*OrderAck, error)
	SubmitLimitOrder(ctx context.Context, symbol string, side OrderSide, price, qty float64, clientID string) (*OrderAck, error)
	CancelAllOrders(ctx context.Context, symbol string) error
	GetPositionState(ctx context.Context, symbol string) (*PositionState, error)
	GetOpenPositions(ctx context.Context) ([]*PositionState, error)
	GetAccountEquity(ctx context.Context) (*AccountEquity, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
	GetInstrumentPrecision(ctx context.Context, symbol string) (*Precision, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
}

// IndicatorSource produces the per-cycle indicator snapshot for a symbol.
// atrMALength comes from the instrument's active bundle; 0 selects the default.
type IndicatorSource interface {
	GetSnapshot(ctx context.Context, symbol string, atrMALength int) (*IndicatorSnapshot, error)
}

// InstrumentRepository reads the trading universe and its rule-sets.
type InstrumentRepository interface {
	ListActiveInstruments(ctx context.Context) ([]*Instrument, error)
	GetActiveBundle(ctx context.Context, instrumentID string) (*ParameterBundle, error)
	SaveInstrument(ctx context.Context, inst *Instrument) error
	SaveBundle(ctx context.Context, bundle *ParameterBundle) error
}

// TradeRepository persists plans, positions and their order events.
type TradeRepository interface {
	SaveTradePlan(ctx context.Context, plan *TradePlan) error
	UpdateTradePlanStatus(ctx context.Context, id string, status PlanStatus, failureReason string) error
	GetTradePlan(ctx context.Context, id string) (*TradePlan, error)
	ListTradePlans(ctx context.Context, limit int) ([]*TradePlan, error)

	// ClaimPositionSlot inserts pos or returns ErrPositionSlotTaken when a
	// non-terminal position already exists.
	ClaimPositionSlot(ctx context.Context, pos *Position) error
	UpdatePosition(ctx context.Context, pos *Position) error
	GetOpenPosition(ctx context.Context) (*Position, error) // (nil, nil) when flat
	ListPositionHistory(ctx context.Context, limit int) ([]*Position, error)

	SaveOrderEvent(ctx context.Context, ev *OrderEvent) error
	SaveSignalEvaluation(ctx context.Context, ev *SignalEvaluation) error
	SaveSelectionDecision(ctx context.Context, dec *SelectionDecision) error
}

// SystemStateRepository persists the halt flag and exposes the read-only
// cooldown state.
type SystemStateRepository interface {
	GetHaltState(ctx context.Context) (*HaltState, error)
	SetHalt(ctx context.Context, reason string) error
	ClearHalt(ctx context.Context) error
	GetCooldownState(ctx context.Context) (*CooldownState, error)
}

// Notifier delivers operator alerts. Best effort: implementations log
// failures and never propagate them into the state machine.
type Notifier interface {
	TradeOpened(ctx context.Context, plan *TradePlan)
	TradeClosed(ctx context.Context, pos *Position)
	Halted(ctx context.Context, reason string)
}
