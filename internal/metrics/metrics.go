// Package metrics exposes the bot's Prometheus instrumentation. All
// collectors are registered in init and served by the web server at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_cycles_total",
			Help: "Evaluation cycles by outcome",
		},
		[]string{"outcome"}, // entered|exited|held|idle|skipped|error
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_signals_total",
			Help: "Signal evaluations by result",
		},
		[]string{"result"}, // eligible|ineligible|data_error
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_orders_total",
			Help: "Orders submitted by role and outcome",
		},
		[]string{"role", "outcome"}, // role: entry|stop|tp|close
	)

	ExitReasons = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_exit_reasons_total",
			Help: "Position exits split by reason",
		},
		[]string{"reason"},
	)

	EquityUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_equity_usd",
			Help: "Total margin balance in USD",
		},
	)

	MarkPriceUSD = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bot_mark_price_usd",
			Help: "Latest streamed mark price per tracked symbol",
		},
		[]string{"symbol"},
	)

	HaltFlag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_halted",
			Help: "1 while the system halt is in effect",
		},
	)

	APIErrorRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bot_api_error_rate",
			Help: "Rolling exchange API error rate over the safety window",
		},
	)

	APICallLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bot_api_call_seconds",
			Help:    "Exchange API call latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		Signals,
		Orders,
		ExitReasons,
		EquityUSD,
		MarkPriceUSD,
		HaltFlag,
		APIErrorRate,
		APICallLatency,
	)
}
