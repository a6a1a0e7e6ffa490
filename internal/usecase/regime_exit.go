package usecase

import "github.com/vitos/crypto_momentum_bot/internal/domain"

// fundingExtremeThreshold is the fixed ±0.1% funding band; outside it, on the
// adverse side, the position exits.
const fundingExtremeThreshold = 0.001

// RegimeExitEvaluator decides whether an open position's governing regime has
// invalidated. Pure. Conditions are checked in fixed priority order and the
// first hit wins; they are never accumulated. TP/SL/SAFETY_HALT reasons come
// from other components, never from here.
type RegimeExitEvaluator struct {
	signals *SignalEvaluator
}

func NewRegimeExitEvaluator(signals *SignalEvaluator) *RegimeExitEvaluator {
	return &RegimeExitEvaluator{signals: signals}
}

// ShouldExit evaluates the open position against the live price, the current
// snapshot, its bundle and the funding rate. Trend state is computed from the
// live price, not any snapshot timestamp.
func (e *RegimeExitEvaluator) ShouldExit(pos *domain.Position, price float64, snap *domain.IndicatorSnapshot, bundle *domain.ParameterBundle, fundingRate float64) (domain.ExitReason, bool) {
	// 1. Volatility contraction
	if !e.signals.VolatilityGate(snap, bundle) {
		return domain.ExitVolContraction, true
	}

	// 2. Momentum no longer aligned
	if pos.Direction == domain.DirectionLong {
		if snap.RSILTF < bundle.RSIReference {
			return domain.ExitMomentumFail, true
		}
	} else {
		if snap.RSILTF > 100-bundle.RSIReference {
			return domain.ExitMomentumFail, true
		}
	}

	// 3. HTF trend flipped against the position
	trend := e.signals.EvaluateTrend(price, snap.EMA200HTF, snap.ATRHTF)
	if pos.Direction == domain.DirectionLong && trend == domain.TrendBear {
		return domain.ExitTrendInvalid, true
	}
	if pos.Direction == domain.DirectionShort && trend == domain.TrendBull {
		return domain.ExitTrendInvalid, true
	}

	// 4. Funding extreme against the position
	if pos.Direction == domain.DirectionLong && fundingRate < -fundingExtremeThreshold {
		return domain.ExitFundingExtreme, true
	}
	if pos.Direction == domain.DirectionShort && fundingRate > fundingExtremeThreshold {
		return domain.ExitFundingExtreme, true
	}

	return "", false
}
