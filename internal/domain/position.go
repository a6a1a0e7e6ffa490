package domain

import "time"

type PositionStatus string

const (
	PositionOpening PositionStatus = "OPENING"
	PositionOpen    PositionStatus = "OPEN"
	PositionClosing PositionStatus = "CLOSING"
	PositionClosed  PositionStatus = "CLOSED"
	PositionFailed  PositionStatus = "FAILED"
)

// IsTerminal reports whether the position can no longer change.
func (s PositionStatus) IsTerminal() bool {
	return s == PositionClosed || s == PositionFailed
}

type ExitReason string

const (
	ExitTP             ExitReason = "TP"
	ExitSL             ExitReason = "SL"
	ExitTrendInvalid   ExitReason = "TREND_INVALID"
	ExitVolContraction ExitReason = "VOL_CONTRACTION"
	ExitMomentumFail   ExitReason = "MOMENTUM_FAIL"
	ExitFundingExtreme ExitReason = "FUNDING_EXTREME"
	ExitSafetyHalt     ExitReason = "SAFETY_HALT"
)

// Position is the live or closed market exposure tied 1:1 to a filled
// TradePlan. At most one position is non-terminal system-wide; storage
// enforces this with an open-slot claim.
type Position struct {
	ID           string
	TradePlanID  string
	InstrumentID string
	Symbol       string
	Direction    Direction
	EntryPrice   float64
	Qty          float64
	Status       PositionStatus
	ExitPrice    float64
	ExitReason   ExitReason
	RealizedPnL  float64
	OpenedAt     time.Time
	ClosedAt     time.Time
}
