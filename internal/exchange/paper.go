package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"xrparb/internal/model"
)

// PaperPlacer simulates order placement by filling at the current quoted
// price with a small random slippage. It keeps real credentials out of the
// loop while exercising the full state machine.
type PaperPlacer struct {
	quotes      QuoteSource
	maxSlippage float64
	logger      *slog.Logger
}

// NewPaperPlacer creates a simulated order placer on top of a quote source.
// maxSlippage is a fraction (0.001 = 0.1%) applied against the trader.
func NewPaperPlacer(quotes QuoteSource, maxSlippage float64, logger *slog.Logger) *PaperPlacer {
	return &PaperPlacer{
		quotes:      quotes,
		maxSlippage: maxSlippage,
		logger:      logger.With(slog.String("component", "paper")),
	}
}

// SubmitOrder fills the order at the latest quote, adjusted by slippage.
// A missing quote is reported as a submission failure, like a rejected
// order on a real venue.
func (p *PaperPlacer) SubmitOrder(ctx context.Context, market model.Market, side model.Side, amount float64) (Fill, error) {
	if amount <= 0 {
		return Fill{}, fmt.Errorf("paper: non-positive amount %f", amount)
	}
	q, err := p.quotes.GetQuote(ctx, market)
	if err != nil {
		return Fill{}, fmt.Errorf("paper: no quote for %s: %w", market, err)
	}

	slip := rand.Float64() * p.maxSlippage
	price := q.Price
	if side == model.SideSell {
		price *= 1 - slip
	} else {
		price *= 1 + slip
	}

	p.logger.Info("simulated fill",
		slog.String("market", string(market)),
		slog.String("side", string(side)),
		slog.Float64("amount", amount),
		slog.Float64("price", price),
	)

	return Fill{Amount: amount, Price: price}, nil
}
