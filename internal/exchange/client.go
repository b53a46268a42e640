package exchange

import (
	"context"
	"errors"

	"xrparb/internal/model"
)

// ErrNoQuote is returned by a QuoteSource that has nothing to serve yet.
var ErrNoQuote = errors.New("exchange: no quote available")

// Fill is the reported outcome of a submitted order. Partial fills are
// reported as filled-at-reported-amount; the caller scales the next leg.
type Fill struct {
	Amount float64
	Price  float64
}

// QuoteSource supplies point-in-time quotes for a market.
type QuoteSource interface {
	GetQuote(ctx context.Context, market model.Market) (model.Quote, error)
}

// OrderPlacer is the abstract order-placement capability. Submissions carry
// a bounded timeout through ctx; exceeding it is treated as a failure.
type OrderPlacer interface {
	SubmitOrder(ctx context.Context, market model.Market, side model.Side, amount float64) (Fill, error)
}
