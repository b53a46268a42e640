package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SpreadPct = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xrparb_spread_percentage",
		Help: "Current spread between the two markets, percent of the lower price",
	})

	Price = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xrparb_price",
		Help: "Latest known price per market",
	}, []string{"market"})

	TicksSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xrparb_ticks_skipped_total",
		Help: "Engine ticks skipped, by cause",
	}, []string{"cause"})

	Rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xrparb_risk_rejections_total",
		Help: "Risk verdicts rejecting a candidate, by reason code",
	}, []string{"reason"})

	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xrparb_trade_attempts_total",
		Help: "Terminal trade attempts, by final state",
	}, []string{"state"})

	RealizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xrparb_realized_pnl",
		Help: "Cumulative realized profit and loss since process start",
	})

	PollFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xrparb_poll_failures_total",
		Help: "Quote poll failures",
	})
)

func init() {
	prometheus.MustRegister(
		SpreadPct,
		Price,
		TicksSkipped,
		Rejections,
		Attempts,
		RealizedPnL,
		PollFailures,
	)
}
