package domain

import "time"

// Instrument is a tradable USD-M perpetual contract tracked by the bot.
type Instrument struct {
	ID            string
	Symbol        string
	QuoteAsset    string
	LiquidityRank int // lower = more liquid
	IsActive      bool
	CreatedAt     time.Time
}

// VolGateMode selects how the volatility-expansion gate is evaluated.
// Exactly one mode is active per bundle.
type VolGateMode string

const (
	VolGateATRAboveMA    VolGateMode = "ATR_GT_ATRMA"
	VolGateATRPercentile VolGateMode = "ATR_PERCENTILE"
)

// ParameterBundle is one versioned rule-set for an instrument. At most one
// bundle is active per instrument; optimization creates a new version and
// deactivates the old one, bundles are never mutated in place.
type ParameterBundle struct {
	ID                     string
	InstrumentID           string
	Version                int
	StopMultiplier         float64
	VolGateMode            VolGateMode
	ATRMALength            int     // set when VolGateMode == VolGateATRAboveMA
	ATRPercentileThreshold float64 // set when VolGateMode == VolGateATRPercentile
	RSIReference           float64
	IsActive               bool
	CreatedAt              time.Time
}
