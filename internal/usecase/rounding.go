package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

// FloorToStep rounds value down to the nearest multiple of step. Decimal math
// avoids the float drift that makes 0.1*3 != 0.3. A zero step returns the
// value unchanged.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	steps := v.Div(s).Floor()
	f, _ := steps.Mul(s).Float64()
	return f
}

// CeilToStep rounds value up to the nearest multiple of step.
func CeilToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	steps := v.Div(s).Ceil()
	f, _ := steps.Mul(s).Float64()
	return f
}

// ApplyPrecision snaps the plan's quantity and prices to the exchange
// increments. Quantity always floors. Protective prices round toward entry:
// a LONG stop ceils and a SHORT stop floors, targets mirror. Rounding away
// from entry would widen the stop distance and push realised risk past the
// sized amount.
func ApplyPrecision(plan *domain.TradePlan, prec *domain.Precision) {
	plan.Qty = FloorToStep(plan.Qty, prec.StepSize)

	if plan.Direction == domain.DirectionLong {
		plan.StopPrice = CeilToStep(plan.StopPrice, prec.TickSize)
		plan.TargetPrice = FloorToStep(plan.TargetPrice, prec.TickSize)
	} else {
		plan.StopPrice = FloorToStep(plan.StopPrice, prec.TickSize)
		plan.TargetPrice = CeilToStep(plan.TargetPrice, prec.TickSize)
	}

	// Realised risk follows the rounded numbers.
	r := plan.EntryPrice - plan.StopPrice
	if r < 0 {
		r = -r
	}
	plan.RValue = r
	plan.RiskAmount = plan.Qty * r
	plan.MarginRequired = plan.Qty * plan.EntryPrice
}
