package domain

import "time"

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// OrderSide is the exchange-facing side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionLong {
		return SideBuy
	}
	return SideSell
}

// CloseSide returns the order side that flattens a position in this direction.
func (d Direction) CloseSide() OrderSide {
	if d == DirectionLong {
		return SideSell
	}
	return SideBuy
}

type TrendState string

const (
	TrendBull          TrendState = "BULL"
	TrendBear          TrendState = "BEAR"
	TrendNeutralBuffer TrendState = "NEUTRAL_BUFFER"
)

// IndicatorSnapshot is the immutable per-evaluation indicator bundle for one
// instrument. HTF values come from the 1h timeframe, LTF from 15m.
type IndicatorSnapshot struct {
	Symbol string
	At     time.Time
	Price  float64

	EMA200HTF float64
	ATRHTF    float64

	RSILTF           float64
	ATRLTF           float64
	ATRMALTF         float64
	ATRPercentileLTF float64
}

// EligibleSignal is a trade candidate produced for one instrument in one
// cycle. Created fresh each cycle, persisted only as an evaluation record.
type EligibleSignal struct {
	InstrumentID  string
	Symbol        string
	Direction     Direction
	Trend         TrendState
	TrendStrength float64 // |price - ema| / atrHTF
	VolExpansion  float64 // atr/atrMA, or percentile/100
	LiquidityRank int
	EvaluatedAt   time.Time
}

// SignalEvaluation is the audit record of one instrument's evaluation in one
// cycle, eligible or not.
type SignalEvaluation struct {
	ID            string
	EvaluatedAt   time.Time
	InstrumentID  string
	BundleID      string
	Trend         TrendState
	VolGatePassed bool
	MomentumOK    bool
	Eligible      bool
	TrendStrength float64
	VolExpansion  float64
	LiquidityRank int
}

// SelectionDecision records the outcome of the selection step of one cycle.
type SelectionDecision struct {
	ID                   string
	EvaluatedAt          time.Time
	SelectedInstrumentID string // empty when Decision != "SELECTED"
	Decision             string // SELECTED, NONE, BLOCKED_BY_POSITION, BLOCKED_BY_COOLDOWN, BLOCKED_BY_SAFETY
}
