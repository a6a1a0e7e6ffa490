package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_momentum_bot/internal/domain"
	"github.com/vitos/crypto_momentum_bot/internal/metrics"
)

const (
	requiredLeverage   = 1
	requiredMarginType = "isolated"

	// Rolling error-rate circuit breaker: window of the last errorRateWindow
	// call outcomes, armed once errorRateMinCalls exist.
	errorRateWindow    = 50
	errorRateMinCalls  = 20
	errorRateThreshold = 0.05

	latencyWarnThreshold = 1 * time.Second
)

// SafetySupervisor enforces runtime invariants: the account must stay at 1x
// isolated margin, and the exchange API must stay healthy. Either violation
// raises a system halt; halts do not auto-clear.
type SafetySupervisor struct {
	exchange domain.Exchange
	halt     *HaltGuard
	logger   *zap.Logger

	mu     sync.Mutex
	window [errorRateWindow]bool // true = call failed
	next   int
	total  int
}

func NewSafetySupervisor(exchange domain.Exchange, halt *HaltGuard, logger *zap.Logger) *SafetySupervisor {
	return &SafetySupervisor{exchange: exchange, halt: halt, logger: logger}
}

// RecordAPICall feeds one exchange call outcome into the rolling window.
// While the error rate over an armed window exceeds the threshold every
// recorded call raises the halt; HaltGuard deduplicates, so one unhealthy
// stretch produces one alert, and after an operator reset a still-unhealthy
// window trips the breaker again on the next call.
func (s *SafetySupervisor) RecordAPICall(ok bool, latency time.Duration) {
	metrics.APICallLatency.Observe(latency.Seconds())
	if latency > latencyWarnThreshold {
		s.logger.Warn("slow exchange call", zap.Duration("latency", latency))
	}

	s.mu.Lock()
	s.window[s.next] = !ok
	s.next = (s.next + 1) % errorRateWindow
	if s.total < errorRateWindow {
		s.total++
	}
	rate := s.errorRateLocked()
	armed := s.total >= errorRateMinCalls
	s.mu.Unlock()

	metrics.APIErrorRate.Set(rate)

	if armed && rate > errorRateThreshold {
		s.halt.Raise(context.Background(),
			fmt.Sprintf("API_ERROR_RATE: %.1f%% over last %d calls", rate*100, errorRateWindow))
	}
}

func (s *SafetySupervisor) errorRateLocked() float64 {
	if s.total == 0 {
		return 0
	}
	errs := 0
	for i := 0; i < s.total; i++ {
		if s.window[i] {
			errs++
		}
	}
	return float64(errs) / float64(s.total)
}

// ErrorRate returns the current rolling error rate.
func (s *SafetySupervisor) ErrorRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorRateLocked()
}

// PreTradeCheck verifies the account invariants immediately before a new
// entry. A leverage or margin-mode mismatch is an invariant violation: it
// halts the system, independent of any in-progress trade. An API failure
// during the check blocks this entry but does not halt by itself; the error
// window accounts for it.
func (s *SafetySupervisor) PreTradeCheck(ctx context.Context, symbol string) error {
	ps, err := s.exchange.GetPositionState(ctx, symbol)
	if err != nil {
		return fmt.Errorf("pre-trade account check for %s: %w", symbol, err)
	}

	if ps.Leverage != requiredLeverage {
		reason := fmt.Sprintf("LEVERAGE_VIOLATION: %s at %dx, required %dx", symbol, ps.Leverage, requiredLeverage)
		s.halt.Raise(ctx, reason)
		return fmt.Errorf("%s: %w", reason, domain.ErrHalted)
	}
	if !strings.EqualFold(ps.MarginType, requiredMarginType) {
		reason := fmt.Sprintf("MARGIN_MODE_VIOLATION: %s in %q, required %q", symbol, ps.MarginType, requiredMarginType)
		s.halt.Raise(ctx, reason)
		return fmt.Errorf("%s: %w", reason, domain.ErrHalted)
	}

	s.logger.Debug("pre-trade safety check passed", zap.String("symbol", symbol))
	return nil
}
