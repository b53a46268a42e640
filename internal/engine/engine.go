// Package engine runs the decision loop: one tick at a time, at most one
// trade attempt in flight, so the ledger never sees competing reservations
// from overlapping attempts.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"xrparb/internal/database"
	"xrparb/internal/ledger"
	"xrparb/internal/metrics"
	"xrparb/internal/model"
	"xrparb/internal/redisfeed"
)

// SpreadSource is the monitor surface the engine consumes.
type SpreadSource interface {
	LatestSpread() (model.SpreadSnapshot, bool)
	MaxVolatility() float64
}

// Evaluator is the risk controller surface.
type Evaluator interface {
	Evaluate(candidate model.TradeCandidate, state model.RiskState) model.Verdict
}

// AttemptRunner drives an attempt to a terminal state.
type AttemptRunner interface {
	Execute(ctx context.Context, a *model.TradeAttempt)
}

// Config are the loop parameters.
type Config struct {
	TickInterval   time.Duration
	TradeAmount    float64
	FreshnessBound time.Duration
	Cooldown       time.Duration
	// RecentWindow is how many terminal attempts feed the success-rate input.
	RecentWindow int
	// PriceSampleEvery persists the quote pair every Nth tick; 0 disables.
	PriceSampleEvery int
}

// Engine owns the loop lifecycle. Start and Stop are idempotent.
type Engine struct {
	monitor  SpreadSource
	riskCtrl Evaluator
	runner   AttemptRunner
	ledger   *ledger.Ledger
	repo     database.Repository
	feed     *redisfeed.Publisher
	cfg      Config
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	paused     bool
	cancel     context.CancelFunc
	done       chan struct{}
	lastFinish time.Time
	lastReject model.RejectReason
	ticks      int
}

// New wires an engine. feed may be nil.
func New(mon SpreadSource, riskCtrl Evaluator, runner AttemptRunner, led *ledger.Ledger,
	repo database.Repository, feed *redisfeed.Publisher, cfg Config, logger *slog.Logger) *Engine {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 20
	}
	return &Engine{
		monitor:  mon,
		riskCtrl: riskCtrl,
		runner:   runner,
		ledger:   led,
		repo:     repo,
		feed:     feed,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "engine")),
	}
}

// Start begins the loop. Starting a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.logger.Warn("engine already running")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx)
	e.logger.Info("engine started")
}

// Stop halts scheduling of new attempts and waits for the in-flight attempt
// to reach a terminal state. Stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("engine stopped")
}

// Running reports whether the loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Paused reports whether trading is halted pending reconciliation of an
// unresolved partial attempt.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Acknowledge clears the partial-failure pause after the operator has
// reconciled the held counter-currency.
func (e *Engine) Acknowledge() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		e.logger.Info("partial failure acknowledged, trading resumed")
	}
}

// LastReject returns the most recent rejection reason, for observability.
func (e *Engine) LastReject() model.RejectReason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReject
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The in-flight attempt must reach a terminal state even when
			// Stop cancels the loop; only scheduling is cancellable.
			e.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one full decision pass. It never overlaps itself: the loop is
// the only caller and waits for completion, and attempt N+1 never begins
// before attempt N is terminal.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	e.ticks++
	tick := e.ticks
	paused := e.paused
	e.mu.Unlock()

	snap, ok := e.monitor.LatestSpread()
	if !ok {
		metrics.TicksSkipped.WithLabelValues("unavailable").Inc()
		return
	}
	e.observe(ctx, snap, tick)

	now := time.Now().UTC()
	if snap.Stale(e.cfg.FreshnessBound, now) {
		metrics.TicksSkipped.WithLabelValues("stale").Inc()
		return
	}
	if paused {
		metrics.TicksSkipped.WithLabelValues("paused").Inc()
		return
	}

	sellMarket, buyMarket := snap.SellMarket()
	candidate := model.TradeCandidate{
		SellMarket: sellMarket,
		BuyMarket:  buyMarket,
		Amount:     e.cfg.TradeAmount,
		SellPrice:  e.price(snap, sellMarket),
		BuyPrice:   e.price(snap, buyMarket),
		Snapshot:   snap,
	}

	state, err := e.riskState(ctx, now)
	if err != nil {
		e.logger.Error("risk state unavailable, skipping tick", "error", err)
		metrics.TicksSkipped.WithLabelValues("risk_state").Inc()
		return
	}

	verdict := e.riskCtrl.Evaluate(candidate, state)
	if !verdict.Approved {
		e.mu.Lock()
		e.lastReject = verdict.Reason
		e.mu.Unlock()
		metrics.Rejections.WithLabelValues(string(verdict.Reason)).Inc()
		e.logger.Debug("candidate rejected",
			slog.String("reason", string(verdict.Reason)),
			slog.Float64("spread_pct", snap.SpreadPct),
		)
		return
	}

	attempt := e.buildAttempt(candidate, verdict.Amount, now)
	e.logger.Info("executing attempt",
		slog.String("attempt", attempt.ID),
		slog.String("sell", string(sellMarket)),
		slog.String("buy", string(buyMarket)),
		slog.Float64("amount", verdict.Amount),
		slog.Float64("spread_pct", snap.SpreadPct),
	)

	e.runner.Execute(ctx, attempt)
	e.finish(ctx, attempt)
}

func (e *Engine) buildAttempt(c model.TradeCandidate, amount float64, now time.Time) *model.TradeAttempt {
	return &model.TradeAttempt{
		ID:         uuid.NewString(),
		DetectedAt: now,
		SellMarket: c.SellMarket,
		BuyMarket:  c.BuyMarket,
		Amount:     amount,
		SpreadPct:  c.Snapshot.SpreadPct,
		State:      model.StatePlanned,
		SellLeg: model.OrderLeg{
			Side:            model.SideSell,
			Market:          c.SellMarket,
			RequestedAmount: amount,
			RequestedPrice:  c.SellPrice,
		},
		BuyLeg: model.OrderLeg{
			Side:            model.SideBuy,
			Market:          c.BuyMarket,
			RequestedAmount: amount,
			RequestedPrice:  c.BuyPrice,
		},
	}
}

func (e *Engine) finish(ctx context.Context, a *model.TradeAttempt) {
	e.mu.Lock()
	e.lastFinish = time.Now().UTC()
	if a.State == model.StatePartial {
		e.paused = true
	}
	e.mu.Unlock()

	metrics.Attempts.WithLabelValues(string(a.State)).Inc()
	metrics.RealizedPnL.Add(a.RealizedPnL)

	if a.State == model.StatePartial {
		e.logger.Error("PARTIAL attempt requires reconciliation; trading paused",
			slog.String("attempt", a.ID),
			slog.String("held_currency", a.SellMarket.Quote()),
		)
	}

	if err := e.repo.SaveTradeAttempt(ctx, *a); err != nil {
		e.logger.Error("failed to persist attempt", slog.String("attempt", a.ID), "error", err)
	}
	balances := e.ledger.Snapshot()
	if err := e.repo.SaveBalanceSnapshot(ctx, balances); err != nil {
		e.logger.Error("failed to persist balance snapshot", "error", err)
	}
	if err := e.feed.PublishBalances(ctx, balances); err != nil {
		e.logger.Warn("balance publish failed", "error", err)
	}
}

// riskState derives the per-decision inputs from the ledger, the monitor
// and the trade store.
func (e *Engine) riskState(ctx context.Context, now time.Time) (model.RiskState, error) {
	volume, err := e.repo.DailyVolume(ctx, now)
	if err != nil {
		return model.RiskState{}, err
	}
	successRate, err := e.repo.RecentSuccessRate(ctx, e.cfg.RecentWindow)
	if err != nil {
		return model.RiskState{}, err
	}

	e.mu.Lock()
	lastFinish := e.lastFinish
	e.mu.Unlock()

	var cooldown time.Duration
	if !lastFinish.IsZero() {
		if remaining := e.cfg.Cooldown - now.Sub(lastFinish); remaining > 0 {
			cooldown = remaining
		}
	}

	return model.RiskState{
		Now:               now,
		FreeBase:          e.ledger.Free("XRP"),
		VolumeTradedToday: volume,
		Volatility:        e.monitor.MaxVolatility(),
		SuccessRateRecent: successRate,
		CooldownRemaining: cooldown,
	}, nil
}

// observe feeds the write-only observers: metrics, the dashboard feed and
// the sampled price history.
func (e *Engine) observe(ctx context.Context, snap model.SpreadSnapshot, tick int) {
	metrics.SpreadPct.Set(snap.SpreadPct)
	metrics.Price.WithLabelValues(string(model.MarketUSDT)).Set(snap.QuoteUSDT.Price)
	metrics.Price.WithLabelValues(string(model.MarketUSDC)).Set(snap.QuoteUSDC.Price)

	if err := e.feed.PublishSpread(ctx, snap); err != nil {
		e.logger.Warn("spread publish failed", "error", err)
	}

	if e.cfg.PriceSampleEvery > 0 && tick%e.cfg.PriceSampleEvery == 0 {
		for _, q := range []model.Quote{snap.QuoteUSDT, snap.QuoteUSDC} {
			if err := e.repo.SavePricePoint(ctx, q); err != nil {
				e.logger.Warn("price sample persist failed", "error", err)
			}
		}
	}
}

func (e *Engine) price(snap model.SpreadSnapshot, m model.Market) float64 {
	if m == model.MarketUSDT {
		return snap.QuoteUSDT.Price
	}
	return snap.QuoteUSDC.Price
}
