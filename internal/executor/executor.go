// Package executor drives the two-leg, sell-first order state machine.
// Selling the higher-priced market first means a failed second leg leaves
// the account holding stablecoin, not an unhedged position in the asset.
package executor

import (
	"context"
	"log/slog"
	"time"

	"xrparb/internal/config"
	"xrparb/internal/exchange"
	"xrparb/internal/ledger"
	"xrparb/internal/model"
)

// Executor converts an approved trade attempt into a terminal record,
// updating the ledger at every settlement point. It holds no cross-attempt
// state: the engine serializes attempts.
type Executor struct {
	placer       exchange.OrderPlacer
	ledger       *ledger.Ledger
	cfg          config.ExecutorConfig
	orderTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// New creates an executor over the order-placement capability.
func New(placer exchange.OrderPlacer, led *ledger.Ledger, cfg config.ExecutorConfig, orderTimeout time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		placer:       placer,
		ledger:       led,
		cfg:          cfg,
		orderTimeout: orderTimeout,
		logger:       logger.With(slog.String("component", "executor")),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Execute drives the attempt from PLANNED to a terminal state. It returns
// only once the attempt is terminal; the buy leg is never submitted before
// the sell leg's fill is confirmed.
func (e *Executor) Execute(ctx context.Context, a *model.TradeAttempt) {
	base := a.SellMarket.Base()

	sellRes, err := e.ledger.Reserve(base, a.SellLeg.RequestedAmount)
	if err != nil {
		// Raced away between risk check and execution; abort cleanly.
		a.SellLeg.Error = err.Error()
		a.Transition(model.StateSellFailed, e.now())
		e.logger.Warn("sell reservation failed", slog.String("attempt", a.ID), "error", err)
		return
	}
	a.Transition(model.StateSelling, e.now())

	sellFill, err := e.submit(ctx, &a.SellLeg)
	if err != nil {
		a.SellLeg.Error = err.Error()
		e.ledger.Release(sellRes)
		a.RealizedPnL = 0
		a.Transition(model.StateSellFailed, e.now())
		e.logger.Warn("sell leg failed, ledger restored", slog.String("attempt", a.ID), "error", err)
		return
	}

	// Partial fills count as filled-at-reported-amount; the remainder of
	// the reservation returns to free and the buy leg scales down.
	e.ledger.SettleSpend(sellRes, sellFill.Amount)
	proceeds := sellFill.Amount * sellFill.Price
	counter := a.SellMarket.Quote()
	e.ledger.SettleReceive(counter, proceeds)
	a.Transition(model.StateSellFilled, e.now())

	a.BuyLeg.RequestedAmount = sellFill.Amount
	buyRes, err := e.reserveBuy(a, proceeds)
	if err != nil {
		a.BuyLeg.Error = err.Error()
		a.Transition(model.StatePartial, e.now())
		e.logger.Error("buy leg unfunded, attempt flagged for reconciliation",
			slog.String("attempt", a.ID), "error", err)
		return
	}
	a.Transition(model.StateBuying, e.now())

	buyFill, err := e.submitWithRetry(ctx, &a.BuyLeg)
	if err != nil {
		// Nothing was spent: the reservation returns to free and the
		// ledger legitimately holds the counter-currency.
		a.BuyLeg.Error = err.Error()
		e.ledger.Release(buyRes)
		a.RealizedPnL = 0
		a.Transition(model.StatePartial, e.now())
		e.logger.Error("buy leg exhausted retries, attempt flagged for reconciliation",
			slog.String("attempt", a.ID), "error", err)
		return
	}

	cost := buyFill.Amount * buyFill.Price
	if cost > buyRes.Amount {
		// Slippage past the reserved buffer; clamp the settle and surface it.
		e.logger.Warn("buy cost exceeded reservation",
			slog.String("attempt", a.ID),
			slog.Float64("cost", cost),
			slog.Float64("reserved", buyRes.Amount),
		)
		cost = buyRes.Amount
	}
	e.ledger.SettleSpend(buyRes, cost)
	e.ledger.SettleReceive(base, buyFill.Amount)

	a.RealizedPnL = proceeds - cost
	a.Transition(model.StateCompleted, e.now())
	e.logger.Info("attempt completed",
		slog.String("attempt", a.ID),
		slog.Float64("sold", sellFill.Amount),
		slog.Float64("reacquired", buyFill.Amount),
		slog.Float64("pnl", a.RealizedPnL),
	)
}

// reserveBuy locks funds for the buy leg: the estimated cost plus the
// slippage buffer, falling back to the sell proceeds when the account
// holds nothing beyond them.
func (e *Executor) reserveBuy(a *model.TradeAttempt, proceeds float64) (*ledger.Reservation, error) {
	counter := a.SellMarket.Quote()
	want := a.BuyLeg.RequestedAmount * a.BuyLeg.RequestedPrice * (1 + e.cfg.SlippageLimit)
	if res, err := e.ledger.Reserve(counter, want); err == nil {
		return res, nil
	}
	return e.ledger.Reserve(counter, proceeds)
}

func (e *Executor) submit(ctx context.Context, leg *model.OrderLeg) (exchange.Fill, error) {
	ctx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	leg.SubmittedAt = e.now()
	fill, err := e.placer.SubmitOrder(ctx, leg.Market, leg.Side, leg.RequestedAmount)
	if err != nil {
		return exchange.Fill{}, err
	}
	leg.FilledAmount = fill.Amount
	leg.FilledPrice = fill.Price
	leg.FilledAt = e.now()
	return fill, nil
}

// submitWithRetry re-attempts the buy leg with backoff up to the configured
// retry count before giving up.
func (e *Executor) submitWithRetry(ctx context.Context, leg *model.OrderLeg) (exchange.Fill, error) {
	fill, err := e.submit(ctx, leg)
	for attempt := 1; err != nil && attempt <= e.cfg.BuyRetries; attempt++ {
		e.logger.Warn("buy leg retry",
			slog.Int("attempt", attempt),
			slog.Int("max", e.cfg.BuyRetries),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return exchange.Fill{}, ctx.Err()
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
		}
		fill, err = e.submit(ctx, leg)
	}
	return fill, err
}
