package usecase

import (
	"time"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// trendBufferMultiplier widens the EMA200 line by half the HTF ATR on each
// side; prices inside the band classify as NEUTRAL_BUFFER. Fixed, not tunable.
const trendBufferMultiplier = 0.5

// SignalEvaluator classifies trend, volatility and momentum state for one
// instrument. Pure: no I/O, no clock, deterministic for a given input.
type SignalEvaluator struct{}

func NewSignalEvaluator() *SignalEvaluator {
	return &SignalEvaluator{}
}

// EvaluateTrend classifies price against the higher-timeframe EMA200 with a
// volatility buffer.
func (e *SignalEvaluator) EvaluateTrend(price, ema200, atrHTF float64) domain.TrendState {
	buffer := trendBufferMultiplier * atrHTF
	switch {
	case price > ema200+buffer:
		return domain.TrendBull
	case price < ema200-buffer:
		return domain.TrendBear
	default:
		return domain.TrendNeutralBuffer
	}
}

// VolatilityGate reports whether short-term volatility is expanding, under
// whichever gate mode the bundle carries.
func (e *SignalEvaluator) VolatilityGate(snap *domain.IndicatorSnapshot, bundle *domain.ParameterBundle) bool {
	switch bundle.VolGateMode {
	case domain.VolGateATRAboveMA:
		return snap.ATRLTF > snap.ATRMALTF
	case domain.VolGateATRPercentile:
		return snap.ATRPercentileLTF >= bundle.ATRPercentileThreshold
	}
	return false
}

// momentumDirection returns the direction momentum supports given the trend,
// or "" when momentum and trend do not align. Shorts mirror the RSI
// reference around 50: SHORT needs rsi <= 100 - reference.
func (e *SignalEvaluator) momentumDirection(trend domain.TrendState, rsi, reference float64) domain.Direction {
	switch trend {
	case domain.TrendBull:
		if rsi >= reference {
			return domain.DirectionLong
		}
	case domain.TrendBear:
		if rsi <= 100-reference {
			return domain.DirectionShort
		}
	}
	return ""
}

// Evaluate maps (price, snapshot, bundle) to an eligible candidate or nil.
// Absence of a signal is the common case, not an error.
func (e *SignalEvaluator) Evaluate(inst *domain.Instrument, price float64, snap *domain.IndicatorSnapshot, bundle *domain.ParameterBundle) *domain.EligibleSignal {
	trend := e.EvaluateTrend(price, snap.EMA200HTF, snap.ATRHTF)
	volGate := e.VolatilityGate(snap, bundle)
	direction := e.momentumDirection(trend, snap.RSILTF, bundle.RSIReference)

	if direction == "" || !volGate {
		return nil
	}

	trendStrength := 0.0
	if snap.ATRHTF > 0 {
		diff := price - snap.EMA200HTF
		if diff < 0 {
			diff = -diff
		}
		trendStrength = diff / snap.ATRHTF
	}

	volExpansion := 0.0
	if bundle.VolGateMode == domain.VolGateATRPercentile {
		volExpansion = snap.ATRPercentileLTF / 100.0
	} else if snap.ATRMALTF > 0 {
		volExpansion = snap.ATRLTF / snap.ATRMALTF
	}

	return &domain.EligibleSignal{
		InstrumentID:  inst.ID,
		Symbol:        inst.Symbol,
		Direction:     direction,
		Trend:         trend,
		TrendStrength: trendStrength,
		VolExpansion:  volExpansion,
		LiquidityRank: inst.LiquidityRank,
		EvaluatedAt:   time.Now().UTC(),
	}
}

// Evaluation is the full classification used for audit records, including
// ineligible results.
type Evaluation struct {
	Trend         domain.TrendState
	VolGatePassed bool
	MomentumOK    bool
	Signal        *domain.EligibleSignal
}

// Classify runs Evaluate but also reports the intermediate gate states so the
// caller can persist an evaluation record for rejected instruments.
func (e *SignalEvaluator) Classify(inst *domain.Instrument, price float64, snap *domain.IndicatorSnapshot, bundle *domain.ParameterBundle) Evaluation {
	trend := e.EvaluateTrend(price, snap.EMA200HTF, snap.ATRHTF)
	return Evaluation{
		Trend:         trend,
		VolGatePassed: e.VolatilityGate(snap, bundle),
		MomentumOK:    e.momentumDirection(trend, snap.RSILTF, bundle.RSIReference) != "",
		Signal:        e.Evaluate(inst, price, snap, bundle),
	}
}
