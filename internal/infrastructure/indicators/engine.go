// Package indicators computes the trend, volatility and momentum series the
// evaluators consume, from raw exchange candles.
package indicators

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
)

const (
	htfInterval = "1h"
	ltfInterval = "15m"
	candleLimit = 250

	emaTrendPeriod     = 200
	atrPeriod          = 14
	rsiPeriod          = 14
	defaultATRMALength = 20
	percentileLookback = 100
)

// Engine builds per-symbol indicator snapshots from kline history. Stateless
// between calls: every snapshot is recomputed from fresh candles, so a
// restart carries no indicator warm-up debt.
type Engine struct {
	exchange domain.Exchange
}

func NewEngine(exchange domain.Exchange) *Engine {
	return &Engine{exchange: exchange}
}

// GetSnapshot fetches both timeframes and derives the full indicator set. The
// last candle of each series is the live, still-forming one; calculations use
// it so the snapshot reflects current price action.
func (e *Engine) GetSnapshot(ctx context.Context, symbol string, atrMALength int) (*domain.IndicatorSnapshot, error) {
	if atrMALength <= 0 {
		atrMALength = defaultATRMALength
	}

	htf, err := e.exchange.GetCandles(ctx, symbol, htfInterval, candleLimit)
	if err != nil {
		return nil, fmt.Errorf("htf candles for %s: %w", symbol, err)
	}
	if len(htf) < emaTrendPeriod+1 {
		return nil, fmt.Errorf("insufficient %s history for %s: %d candles", htfInterval, symbol, len(htf))
	}

	ltf, err := e.exchange.GetCandles(ctx, symbol, ltfInterval, candleLimit)
	if err != nil {
		return nil, fmt.Errorf("ltf candles for %s: %w", symbol, err)
	}
	if len(ltf) < percentileLookback+atrPeriod {
		return nil, fmt.Errorf("insufficient %s history for %s: %d candles", ltfInterval, symbol, len(ltf))
	}

	htfCloses := closes(htf)
	ltfCloses := closes(ltf)

	ema := EMA(htfCloses, emaTrendPeriod)
	atrHTF := ATR(htf, atrPeriod)
	atrLTF := ATR(ltf, atrPeriod)
	rsi := RSI(ltfCloses, rsiPeriod)

	lastATR := last(atrLTF)
	atrMA := SMA(atrLTF, atrMALength)

	return &domain.IndicatorSnapshot{
		Symbol:           symbol,
		At:               time.Now().UTC(),
		Price:            last(ltfCloses),
		EMA200HTF:        last(ema),
		ATRHTF:           last(atrHTF),
		RSILTF:           last(rsi),
		ATRLTF:           lastATR,
		ATRMALTF:         last(atrMA),
		ATRPercentileLTF: PercentileRank(atrLTF, lastATR, percentileLookback),
	}, nil
}

func closes(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return values[len(values)-1]
}

// EMA returns the exponential moving average series, seeded with the simple
// average of the first period values.
func EMA(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}

	result := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	seed /= float64(period)
	result = append(result, seed)

	alpha := 2.0 / (float64(period) + 1.0)
	prev := seed
	for _, v := range values[period:] {
		prev = alpha*v + (1-alpha)*prev
		result = append(result, prev)
	}
	return result
}

// SMA returns the simple moving average series.
func SMA(values []float64, period int) []float64 {
	if len(values) < period {
		return nil
	}
	result := make([]float64, 0, len(values)-period+1)
	sum := 0.0
	for _, v := range values[:period] {
		sum += v
	}
	result = append(result, sum/float64(period))
	for i := period; i < len(values); i++ {
		sum += values[i] - values[i-period]
		result = append(result, sum/float64(period))
	}
	return result
}

// ATR returns the average true range series, Wilder-smoothed.
func ATR(candles []domain.Candle, period int) []float64 {
	if len(candles) < period+1 {
		return nil
	}

	trs := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := high - low
		if d := abs(high - prevClose); d > tr {
			tr = d
		}
		if d := abs(low - prevClose); d > tr {
			tr = d
		}
		trs = append(trs, tr)
	}

	result := make([]float64, 0, len(trs)-period+1)
	seed := 0.0
	for _, tr := range trs[:period] {
		seed += tr
	}
	seed /= float64(period)
	result = append(result, seed)

	prev := seed
	for _, tr := range trs[period:] {
		prev = (prev*float64(period-1) + tr) / float64(period)
		result = append(result, prev)
	}
	return result
}

// RSI returns the relative strength index series, Wilder-smoothed. A series
// with no losses reads 100, no gains reads 0.
func RSI(values []float64, period int) []float64 {
	if len(values) < period+1 {
		return nil
	}

	gains := make([]float64, 0, len(values)-1)
	losses := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	result := make([]float64, 0, len(gains)-period+1)
	result = append(result, rsiValue(avgGain, avgLoss))

	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result = append(result, rsiValue(avgGain, avgLoss))
	}
	return result
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// PercentileRank reports where value sits within the trailing lookback window
// of the series, as a 0-100 percentage of window entries at or below it.
func PercentileRank(series []float64, value float64, lookback int) float64 {
	if len(series) == 0 {
		return 0
	}
	start := len(series) - lookback
	if start < 0 {
		start = 0
	}
	window := make([]float64, len(series)-start)
	copy(window, series[start:])
	sort.Float64s(window)

	atOrBelow := sort.SearchFloat64s(window, value)
	for atOrBelow < len(window) && window[atOrBelow] <= value {
		atOrBelow++
	}
	return 100 * float64(atOrBelow) / float64(len(window))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
