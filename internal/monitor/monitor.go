// Package monitor polls both market feeds on independent schedules,
// retains a bounded quote history per market and derives the instantaneous
// spread snapshot from the two most recent quotes.
package monitor

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"xrparb/internal/config"
	"xrparb/internal/exchange"
	"xrparb/internal/metrics"
	"xrparb/internal/model"
)

// Monitor owns the per-market pollers and the shared latest-quote pair.
type Monitor struct {
	source exchange.QuoteSource
	cfg    config.MonitorConfig
	logger *slog.Logger

	mu      sync.RWMutex
	latest  map[model.Market]model.Quote
	history map[model.Market][]model.Quote
}

// New creates a monitor over the given quote source.
func New(source exchange.QuoteSource, cfg config.MonitorConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		source:  source,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "monitor")),
		latest:  make(map[model.Market]model.Quote),
		history: make(map[model.Market][]model.Quote),
	}
}

// Run starts one poller per market and blocks until ctx is cancelled.
// Each poller only appends to its own market's history; a poll failure
// leaves the last known quote in place with its true age, so staleness
// detection downstream suppresses trading on its own.
func (m *Monitor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	intervals := map[model.Market]time.Duration{
		model.MarketUSDT: m.cfg.PollIntervalUSDT,
		model.MarketUSDC: m.cfg.PollIntervalUSDC,
	}
	for market, interval := range intervals {
		wg.Add(1)
		go func(market model.Market, interval time.Duration) {
			defer wg.Done()
			m.poll(ctx, market, interval)
		}(market, interval)
	}
	wg.Wait()
	return nil
}

func (m *Monitor) poll(ctx context.Context, market model.Market, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			quote, err := m.source.GetQuote(ctx, market)
			if err != nil {
				metrics.PollFailures.Inc()
				m.logger.Warn("poll failed",
					slog.String("market", string(market)),
					"error", err,
				)
				continue
			}
			m.Observe(quote)
		}
	}
}

// Observe records a quote into its market's history and updates the shared
// latest pair. Exported so tests and replay tooling can drive the monitor
// without a live feed.
func (m *Monitor) Observe(quote model.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latest[quote.Market] = quote

	h := append(m.history[quote.Market], quote)
	if n := len(h) - m.cfg.HistorySize; n > 0 {
		h = h[n:]
	}
	// Age-based pruning: whichever bound is tighter wins.
	if m.cfg.HistoryMaxAge > 0 {
		cutoff := quote.Timestamp.Add(-m.cfg.HistoryMaxAge)
		for len(h) > 0 && h[0].Timestamp.Before(cutoff) {
			h = h[1:]
		}
	}
	m.history[quote.Market] = h
}

// LatestSpread returns the snapshot derived from the two most recent
// quotes, regardless of which market produced the newer one. ok is false
// until both markets have reported at least once.
func (m *Monitor) LatestSpread() (model.SpreadSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usdt, okT := m.latest[model.MarketUSDT]
	usdc, okC := m.latest[model.MarketUSDC]
	if !okT || !okC {
		return model.SpreadSnapshot{}, false
	}
	return model.NewSpreadSnapshot(usdt, usdc, time.Now().UTC()), true
}

// Quote returns the latest known quote for a market.
func (m *Monitor) Quote(market model.Market) (model.Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.latest[market]
	return q, ok
}

// Volatility returns the rolling standard deviation of simple returns over
// the retained window; zero when fewer than 2 samples exist.
func (m *Monitor) Volatility(market model.Market) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := m.history[market]
	if len(h) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(h)-1)
	for i := 1; i < len(h); i++ {
		if h[i-1].Price == 0 {
			continue
		}
		returns = append(returns, (h[i].Price-h[i-1].Price)/h[i-1].Price)
	}
	if len(returns) < 1 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// MaxVolatility returns the larger of the two markets' volatilities, the
// conservative input for risk gating.
func (m *Monitor) MaxVolatility() float64 {
	v := m.Volatility(model.MarketUSDT)
	if c := m.Volatility(model.MarketUSDC); c > v {
		v = c
	}
	return v
}
