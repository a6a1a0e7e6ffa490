package usecase

import "github.com/vitos/crypto_momentum_bot/internal/domain"

// Selector resolves simultaneous candidates to at most one. The tie-break
// hierarchy is a single multi-key comparator, so the result is a genuine
// total order: strongest trend, then strongest volatility expansion, then
// best liquidity rank, then lexicographically smallest symbol. The symbol key
// guarantees a unique winner even under exact numeric ties, which makes the
// result independent of input order.
type Selector struct{}

func NewSelector() *Selector {
	return &Selector{}
}

// beats reports whether a ranks strictly ahead of b.
func (s *Selector) beats(a, b *domain.EligibleSignal) bool {
	if a.TrendStrength != b.TrendStrength {
		return a.TrendStrength > b.TrendStrength
	}
	if a.VolExpansion != b.VolExpansion {
		return a.VolExpansion > b.VolExpansion
	}
	if a.LiquidityRank != b.LiquidityRank {
		return a.LiquidityRank < b.LiquidityRank
	}
	return a.Symbol < b.Symbol
}

// Select returns the single best candidate, or nil for an empty input.
func (s *Selector) Select(signals []*domain.EligibleSignal) *domain.EligibleSignal {
	var best *domain.EligibleSignal
	for _, sig := range signals {
		if sig == nil {
			continue
		}
		if best == nil || s.beats(sig, best) {
			best = sig
		}
	}
	return best
}
