package usecase

import (
	"time"

	"github.com/google/uuid"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

const (
	// riskFraction is the intended fraction of total equity at risk per trade.
	riskFraction = 0.005
	// targetRMultiple fixes the take-profit at exactly 2R.
	targetRMultiple = 2.0
)

// RiskSizer turns a selected candidate plus account equity into a fully
// specified trade plan. Pure; precision rounding is applied separately once
// the exchange increments are known.
type RiskSizer struct{}

func NewRiskSizer() *RiskSizer {
	return &RiskSizer{}
}

// BuildPlan sizes a trade at 1x leverage, so margin equals notional. When the
// ideal margin exceeds available equity the size is clamped to what capital
// allows and the plan is flagged capital-constrained; the shortfall in
// realised risk is reported, never silently absorbed.
//
// A non-positive stop distance is untradeable - the stop would sit on or
// across the entry and quantity would blow up toward infinity - so the
// candidate is rejected with a nil plan. A flat ATR series can produce this
// under the percentile gate.
func (r *RiskSizer) BuildPlan(sig *domain.EligibleSignal, price, atr, stopMultiplier, totalEquity, availableEquity float64) *domain.TradePlan {
	rValue := atr * stopMultiplier
	if rValue <= 0 {
		return nil
	}

	var stop, target float64
	if sig.Direction == domain.DirectionLong {
		stop = price - rValue
		target = price + rValue*targetRMultiple
	} else {
		stop = price + rValue
		target = price - rValue*targetRMultiple
	}

	targetRisk := totalEquity * riskFraction
	idealQty := targetRisk / rValue
	idealMargin := idealQty * price

	margin := idealMargin
	constrained := false
	if idealMargin > availableEquity {
		margin = availableEquity
		constrained = true
	}

	qty := margin / price
	realisedRisk := qty * rValue

	return &domain.TradePlan{
		ID:                 uuid.NewString(),
		InstrumentID:       sig.InstrumentID,
		Symbol:             sig.Symbol,
		Direction:          sig.Direction,
		EntryPrice:         price,
		StopPrice:          stop,
		TargetPrice:        target,
		Qty:                qty,
		RValue:             rValue,
		RiskAmount:         realisedRisk,
		MarginRequired:     margin,
		CapitalConstrained: constrained,
		EquityTotal:        totalEquity,
		EquityAvailable:    availableEquity,
		Status:             domain.PlanPlanned,
		CreatedAt:          time.Now().UTC(),
	}
}
